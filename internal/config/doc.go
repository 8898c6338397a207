// Package config provides configuration loading and validation for the
// transcription gateway service. It handles YAML-based configuration with
// per-section struct validation and lets API credentials come from the
// environment instead of the config file.
package config
