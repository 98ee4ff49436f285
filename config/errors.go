package config

import "errors"

var (
	// ErrUnknownFormat is returned for a config file extension that is not
	// TOML or YAML.
	ErrUnknownFormat = errors.New("unknown config format")

	// ErrUnknownMode is returned for an unsupported layer mode.
	ErrUnknownMode = errors.New("unknown layer mode")
)
