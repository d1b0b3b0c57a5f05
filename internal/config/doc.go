// Package config provides configuration management for the task farm.
// Configuration is loaded from YAML files, environment variables and
// command-line arguments, with precedence:
// defaults < YAML file < environment variables < command-line arguments.
package config
