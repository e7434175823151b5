package models

// SecurityPolicy bundles image, command, and container security rules
// that PolicyEngine evaluates a JobSpec against before admission.
type SecurityPolicy struct {
	ImagePolicy       ImagePolicy       `json:"image_policy" yaml:"image_policy"`
	CommandPolicy     CommandPolicy     `json:"command_policy" yaml:"command_policy"`
	ContainerSecurity ContainerSecurity `json:"container_security" yaml:"container_security"`
}

// ImagePolicy controls which container images may be run.
type ImagePolicy struct {
	AllowedImages []string `json:"allowed_images,omitempty" yaml:"allowed_images,omitempty"`
	BlockedImages []string `json:"blocked_images,omitempty" yaml:"blocked_images,omitempty"`
	RequireDigest bool     `json:"require_digest,omitempty" yaml:"require_digest,omitempty"`
}

// CommandPolicy controls which shell commands may run inside a container.
type CommandPolicy struct {
	BlockedCommands []string `json:"blocked_commands,omitempty" yaml:"blocked_commands,omitempty"`
	BlockedPatterns []string `json:"blocked_patterns,omitempty" yaml:"blocked_patterns,omitempty"`
}

// ContainerSecurity are the security options injected into every container.
type ContainerSecurity struct {
	CapDrop       []string `json:"cap_drop,omitempty" yaml:"cap_drop,omitempty"`
	SecurityOpt   []string `json:"security_opt,omitempty" yaml:"security_opt,omitempty"`
	ReadOnly      bool     `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// Violation is one reason a JobSpec was denied.
type Violation struct {
	Rule    string `json:"rule"`
	Detail  string `json:"detail"`
}

// PolicyResult is the outcome of evaluating a JobSpec against a SecurityPolicy.
type PolicyResult struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations"`
	PolicyName string      `json:"policy_name"`
}

// ResourceLimits bounds concurrency and daily job volume for a workspace.
type ResourceLimits struct {
	MaxConcurrentJobs     int  `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	MaxConcurrentSandboxes int `json:"max_concurrent_sandboxes" yaml:"max_concurrent_sandboxes"`
	DailyJobLimit         *int `json:"daily_job_limit,omitempty" yaml:"daily_job_limit,omitempty"`
}

// WorkspaceSettings holds per-workspace policy overlays.
type WorkspaceSettings struct {
	AllowedImages []string `json:"allowed_images,omitempty" yaml:"allowed_images,omitempty"`
	BlockedImages []string `json:"blocked_images,omitempty" yaml:"blocked_images,omitempty"`
}

// Workspace is the tenancy boundary for quota and policy overlay.
type Workspace struct {
	ID        string            `json:"id"`
	OwnerType string            `json:"owner_type,omitempty"`
	OwnerID   string            `json:"owner_id,omitempty"`
	Limits    ResourceLimits    `json:"limits"`
	Settings  WorkspaceSettings `json:"settings"`
	Status    string            `json:"status,omitempty"`
}

// UsageSnapshot is a point-in-time view of a workspace's quota accounting.
type UsageSnapshot struct {
	CurrentRunningJobs     int `json:"current_running_jobs"`
	CurrentRunningSandboxes int `json:"current_running_sandboxes"`
	JobsToday              int `json:"jobs_today"`
}
