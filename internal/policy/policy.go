// Package policy implements PolicyEngine: a pure function over a
// SecurityPolicy, optional workspace overlay, and a JobSpec that decides
// whether the job may be admitted. It performs no I/O and has no side
// effects, so it is safe to call before any quota reservation is made.
package policy

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/orcaops/orcaops/internal/models"
)

const digestDelimiter = "@sha256:"

// Validate runs the image check once and the command check per command,
// accumulating every violation rather than short-circuiting on the first
// one, so callers can surface the complete set to the caller (spec §4.1).
func Validate(p models.SecurityPolicy, settings *models.WorkspaceSettings, spec models.JobSpec) models.PolicyResult {
	merged := mergeImagePolicy(p.ImagePolicy, settings)

	var violations []models.Violation
	if v, ok := validateImage(merged, spec.Sandbox.Image); !ok {
		violations = append(violations, v)
	}
	for _, cmd := range spec.Commands {
		violations = append(violations, validateCommand(p.CommandPolicy, cmd.Command)...)
	}

	return models.PolicyResult{
		Allowed:    len(violations) == 0,
		Violations: violations,
		PolicyName: "default",
	}
}

func mergeImagePolicy(base models.ImagePolicy, settings *models.WorkspaceSettings) models.ImagePolicy {
	if settings == nil {
		return base
	}
	merged := base
	merged.AllowedImages = append(append([]string(nil), base.AllowedImages...), settings.AllowedImages...)
	merged.BlockedImages = append(append([]string(nil), base.BlockedImages...), settings.BlockedImages...)
	return merged
}

// validateImage checks a single image ref against the merged policy.
// Blocked patterns are evaluated first; any glob hit denies outright.
// If the allowed list is non-empty, the image must match one of its
// globs or it is denied (empty allowed list = permit-all).
func validateImage(p models.ImagePolicy, image string) (models.Violation, bool) {
	for _, pattern := range p.BlockedImages {
		if globMatch(pattern, image) {
			return models.Violation{Rule: "image.blocked", Detail: "image matches blocked pattern: " + pattern}, false
		}
	}

	if len(p.AllowedImages) > 0 {
		allowed := false
		for _, pattern := range p.AllowedImages {
			if globMatch(pattern, image) {
				allowed = true
				break
			}
		}
		if !allowed {
			return models.Violation{Rule: "image.not_allowed", Detail: "image does not match any allowed pattern"}, false
		}
	}

	if p.RequireDigest && !strings.Contains(image, digestDelimiter) {
		return models.Violation{Rule: "image.digest_required", Detail: "image must be pinned by digest (" + digestDelimiter + ")"}, false
	}

	return models.Violation{}, true
}

// validateCommand returns every violation a single command string trips:
// an exact (whitespace-trimmed) match against blocked_commands, and a
// regex search against each blocked_patterns entry. Patterns that fail to
// compile are silently ignored rather than treated as a match.
func validateCommand(p models.CommandPolicy, command string) []models.Violation {
	var violations []models.Violation

	trimmed := strings.TrimSpace(command)
	for _, blocked := range p.BlockedCommands {
		if trimmed == strings.TrimSpace(blocked) {
			violations = append(violations, models.Violation{
				Rule:   "command.blocked",
				Detail: "command is exactly blocked: " + blocked,
			})
		}
	}

	for _, pattern := range p.BlockedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(command) {
			violations = append(violations, models.Violation{
				Rule:   "command.pattern_blocked",
				Detail: "command matches blocked pattern: " + pattern,
			})
		}
	}

	return violations
}

// globMatch reports whether image matches pattern using fnmatch-style
// glob semantics (gobwas/glob), not filepath.Match's stricter rules.
// An invalid pattern never matches.
func globMatch(pattern, image string) bool {
	g, err := glob.Compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(image)
}
