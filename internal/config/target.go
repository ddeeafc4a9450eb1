package config

import "github.com/strikepipe/strikepipe/internal/model"

// TargetConfig holds per-target configuration for a single web application.
// This allows pinning isolation parameters and correlation identifiers per
// target instead of repeating them on every CLI invocation.
type TargetConfig struct {
	// RepoPath is the source repository used for code-assisted analysis.
	RepoPath string `yaml:"repoPath,omitempty"`

	// PlanTier selects the container-isolation plan tier for this target.
	PlanTier string `yaml:"planTier,omitempty"`

	// ImagePin pins the sandbox container image used for this target.
	ImagePin string `yaml:"imagePin,omitempty"`

	// TargetHost restricts the sandbox network policy to this hostname.
	TargetHost string `yaml:"targetHost,omitempty"`

	// ScanID is the scan correlation identifier for this target.
	ScanID string `yaml:"scanId,omitempty"`

	// OrganizationID is the organization correlation identifier.
	OrganizationID string `yaml:"organizationId,omitempty"`
}

// File represents the structure of the .strikepipe configuration file.
type File struct {
	// Targets maps web URLs to their target-specific configurations.
	Targets map[string]TargetConfig `yaml:"targets,omitempty"`

	// Defaults contains configuration applied to all targets unless
	// overridden in the target-specific configuration.
	Defaults TargetConfig `yaml:"defaults,omitempty"`
}

// GetTargetConfig returns the configuration for a specific target URL.
// It merges the target-specific configuration with defaults.
func (cf *File) GetTargetConfig(webURL string) TargetConfig {
	result := cf.Defaults

	if target, ok := cf.Targets[webURL]; ok {
		if target.RepoPath != "" {
			result.RepoPath = target.RepoPath
		}
		if target.PlanTier != "" {
			result.PlanTier = target.PlanTier
		}
		if target.ImagePin != "" {
			result.ImagePin = target.ImagePin
		}
		if target.TargetHost != "" {
			result.TargetHost = target.TargetHost
		}
		if target.ScanID != "" {
			result.ScanID = target.ScanID
		}
		if target.OrganizationID != "" {
			result.OrganizationID = target.OrganizationID
		}
	}
	return result
}

// Apply copies target-level settings into a pipeline input, without
// overriding values the caller set explicitly.
func (tc TargetConfig) Apply(input *model.PipelineInput) {
	if input.RepoPath == "" {
		input.RepoPath = tc.RepoPath
	}
	if input.ScanID == "" {
		input.ScanID = tc.ScanID
	}
	if input.OrganizationID == "" {
		input.OrganizationID = tc.OrganizationID
	}
	if tc.PlanTier == "" && tc.ImagePin == "" && tc.TargetHost == "" {
		return
	}
	if input.Isolation == nil {
		input.Isolation = &model.IsolationParams{}
	}
	if input.Isolation.PlanTier == "" {
		input.Isolation.PlanTier = tc.PlanTier
	}
	if input.Isolation.ImagePin == "" {
		input.Isolation.ImagePin = tc.ImagePin
	}
	if input.Isolation.TargetHost == "" {
		input.Isolation.TargetHost = tc.TargetHost
	}
}
