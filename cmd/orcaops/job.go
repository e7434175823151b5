package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/orcaops/orcaops/internal/config"
	"github.com/orcaops/orcaops/internal/models"
	"github.com/orcaops/orcaops/internal/store"
)

const pollInterval = 500 * time.Millisecond

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Submit a job and block until it reaches a terminal state",
	ArgsUsage: "<job-file.yaml>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "workspace", Usage: "workspace ID the job is submitted under"},
	},
	Action: runAction,
}

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "Print the current RunRecord for a job",
	ArgsUsage: "<job-id>",
	Action:    getAction,
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "List known jobs, optionally filtered by status",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "status", Usage: "filter by status (QUEUED, RUNNING, SUCCESS, FAILED, CANCELLED, TIMEOUT, ERROR)"},
		&cli.IntFlag{Name: "limit", Value: 50},
		&cli.IntFlag{Name: "offset", Value: 0},
	},
	Action: listAction,
}

var gcCommand = &cli.Command{
	Name:  "gc",
	Usage: "Remove job directories created longer ago than the retention window, whatever their status",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "older-than-days", Value: config.RunRetentionDays, Usage: "override ORCAOPS_RUN_RETENTION_DAYS"},
	},
	Action: gcAction,
}

func loadJobSpec(path string) (models.JobSpec, error) {
	var spec models.JobSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("failed to read job file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("failed to parse job file %s: %w", path, err)
	}
	return spec, nil
}

func runAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.Exit("usage: orcaops run <job-file.yaml>", 1)
	}

	spec, err := loadJobSpec(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	if ws := ctx.String("workspace"); ws != "" {
		spec.WorkspaceID = ws
	}

	jm, err := buildJobManager()
	if err != nil {
		return err
	}

	record, err := jm.Submit(spec)
	if err != nil {
		return fmt.Errorf("job rejected: %w", err)
	}
	fmt.Fprintf(os.Stderr, "submitted job %s\n", record.JobID)

	for {
		record, err = jm.Get(record.JobID)
		if err != nil {
			return err
		}
		if record.Status.IsTerminal() {
			break
		}
		time.Sleep(pollInterval)
	}

	printRunRecord(record)
	if record.Status != models.JobSuccess {
		return cli.Exit("", 1)
	}
	return nil
}

func getAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.Exit("usage: orcaops get <job-id>", 1)
	}
	st := store.New(config.ArtifactRoot)
	record, err := st.Get(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	if record == nil {
		return cli.Exit("job not found", 1)
	}
	printRunRecord(record)
	return nil
}

func listAction(ctx *cli.Context) error {
	st := store.New(config.ArtifactRoot)
	filter := store.Filter{Status: models.JobStatus(ctx.String("status"))}
	page := store.Page{Limit: ctx.Int("limit"), Offset: ctx.Int("offset")}

	records, err := st.List(filter, page)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\n", r.JobID, r.Status, r.ImageRef)
	}
	return nil
}

func gcAction(ctx *cli.Context) error {
	st := store.New(config.ArtifactRoot)
	removed, err := st.Cleanup(ctx.Int("older-than-days"))
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	for _, jobID := range removed {
		fmt.Println(jobID)
	}
	fmt.Fprintf(os.Stderr, "removed %d job director%s\n", len(removed), pluralIES(len(removed)))
	return nil
}

func pluralIES(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func printRunRecord(record *models.RunRecord) {
	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to render run record:", err)
		return
	}
	fmt.Println(string(out))
}
