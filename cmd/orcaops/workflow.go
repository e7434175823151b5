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

var workflowCommand = &cli.Command{
	Name:  "workflow",
	Usage: "Submit and inspect workflows (DAGs of jobs)",
	Subcommands: []*cli.Command{
		workflowRunCommand,
		workflowGetCommand,
		workflowListCommand,
	},
}

var workflowRunCommand = &cli.Command{
	Name:      "run",
	Usage:     "Submit a workflow and block until it reaches a terminal state",
	ArgsUsage: "<workflow-file.yaml>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "workspace", Usage: "workspace ID the workflow is submitted under"},
		&cli.StringFlag{Name: "workflow-id", Usage: "override the generated workflow ID"},
	},
	Action: workflowRunAction,
}

var workflowGetCommand = &cli.Command{
	Name:      "get",
	Usage:     "Print the current WorkflowRecord",
	ArgsUsage: "<workflow-id>",
	Action:    workflowGetAction,
}

var workflowListCommand = &cli.Command{
	Name:   "list",
	Usage:  "List known workflows",
	Action: workflowListAction,
}

func loadWorkflowSpec(path string) (models.WorkflowSpec, error) {
	var spec models.WorkflowSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}
	return spec, nil
}

func workflowRunAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.Exit("usage: orcaops workflow run <workflow-file.yaml>", 1)
	}

	spec, err := loadWorkflowSpec(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	jm, err := buildJobManager()
	if err != nil {
		return err
	}
	engine := buildEngine(jm)

	record, err := engine.Submit(spec, ctx.String("workflow-id"), ctx.String("workspace"), "cli")
	if err != nil {
		return fmt.Errorf("workflow rejected: %w", err)
	}
	fmt.Fprintf(os.Stderr, "submitted workflow %s\n", record.WorkflowID)

	for !isTerminalWorkflowStatus(record.Status) {
		time.Sleep(pollInterval)
		record, err = engine.Get(record.WorkflowID)
		if err != nil {
			return err
		}
	}

	printWorkflowRecord(record)
	if record.Status != models.WorkflowSuccess {
		return cli.Exit("", 1)
	}
	return nil
}

func workflowGetAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.Exit("usage: orcaops workflow get <workflow-id>", 1)
	}
	ws := store.NewWorkflowStore(config.ArtifactRoot)
	record, err := ws.Get(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	if record == nil {
		return cli.Exit("workflow not found", 1)
	}
	printWorkflowRecord(record)
	return nil
}

func workflowListAction(ctx *cli.Context) error {
	ws := store.NewWorkflowStore(config.ArtifactRoot)
	records, err := ws.List()
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\n", r.WorkflowID, r.Status, r.SpecName)
	}
	return nil
}

func printWorkflowRecord(record *models.WorkflowRecord) {
	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to render workflow record:", err)
		return
	}
	fmt.Println(string(out))
}

func isTerminalWorkflowStatus(status models.WorkflowStatus) bool {
	switch status {
	case models.WorkflowSuccess, models.WorkflowFailed, models.WorkflowPartialSuccess, models.WorkflowCancelled:
		return true
	default:
		return false
	}
}
