// Package config provides configuration types and loading for the
// proxy.
//
// This package defines the complete configuration model, YAML loading
// with environment variable substitution, and validation. The route
// table, registrar and registry endpoints, forwarding timeout, and the
// observability surface are all configured here.
//
// # Features
//
//   - YAML configuration file loading
//   - Environment variable substitution with ${VAR:-default} syntax
//   - Configuration validation with detailed error reporting
//   - Regex route table with static and registrar-resolved targets
//
// # Configuration Loading
//
// Load configuration from a YAML file:
//
//	cfg, err := config.LoadConfig("config/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	warnings, err := cfg.Validate()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
