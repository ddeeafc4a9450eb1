package model

// PipelineInput is the immutable submission record for one assessment run.
// Once accepted by the bridge it is never mutated; the orchestrator and all
// phase invocations receive it by value.
type PipelineInput struct {
	// WebURL is the target web application URL to assess.
	WebURL string `json:"webUrl"`

	// RepoPath is the local path to the target source repository.
	RepoPath string `json:"repoPath"`

	// ConfigPath is an optional path to a target configuration file.
	// When empty, strikepipe searches the standard config locations.
	ConfigPath string `json:"configPath,omitempty"`

	// OutputPath is an optional path where run artifacts (final report,
	// progress snapshot) are written.
	OutputPath string `json:"outputPath,omitempty"`

	// TestingMode selects the fast-iteration retry profile for every
	// activity of the run. The selection happens once at run start, never
	// per phase.
	TestingMode bool `json:"pipelineTestingMode,omitempty"`

	// RunID is an optional caller-supplied run identifier. When empty the
	// bridge generates one.
	RunID string `json:"runId,omitempty"`

	// ScanID correlates the run with an externally managed scan record.
	ScanID string `json:"scanId,omitempty"`

	// OrganizationID correlates the run with the owning organization.
	OrganizationID string `json:"organizationId,omitempty"`

	// Isolation holds optional container-isolation parameters. The sandbox
	// itself is an external collaborator; the orchestrator only carries
	// these values through to phase invocations.
	Isolation *IsolationParams `json:"isolation,omitempty"`
}

// IsolationParams describes the container-isolation request for a run.
type IsolationParams struct {
	// PlanTier is the billing plan tier that bounds sandbox resources.
	PlanTier string `json:"planTier,omitempty"`

	// ImagePin pins the sandbox container image to a specific digest.
	ImagePin string `json:"imagePin,omitempty"`

	// TargetHost restricts sandbox egress to the given hostname.
	TargetHost string `json:"targetHost,omitempty"`
}
