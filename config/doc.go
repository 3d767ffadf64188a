// Package config loads the execution core's configuration.
//
// Precedence is defaults, then a YAML file, then SKEIN_-prefixed
// environment variables:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("skein.yaml").
//	    Load()
package config
