// Package config loads, normalizes, and validates tilepipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides for backend
// credentials. The Config type centralizes every knob the daemon and CLI need:
// which queue/status/storage backends to wire, how the two conversion stages
// are named and restricted, and how long workers lease messages.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical extension lists, and clear validation errors.
package config
