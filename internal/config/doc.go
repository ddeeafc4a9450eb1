// Package config defines the CLI configuration, its defaults and
// validation, and the optional per-target YAML configuration file.
package config
