package config

import "errors"

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig wraps failures reading .env, YAML or environment sources.
	ErrLoadConfig = errors.New("load config failed")
)
