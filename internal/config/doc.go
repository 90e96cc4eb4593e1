// Package config loads detrisd configuration from YAML or JSON files and
// applies DETRIS_* environment overrides on top of the file contents.
package config
