// Package config loads and validates Verdant Core configuration.
//
// Configuration comes from a YAML file with environment variable overrides
// (VERDANT_* pattern). Defaults are applied first, so a minimal config file
// only needs to set what differs from a local development setup.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Secrets (MQTT credentials, InfluxDB token) should be supplied through the
// environment rather than committed to the config file.
package config
