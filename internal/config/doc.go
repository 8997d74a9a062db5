// Package config loads, normalizes, and validates gleaner configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OLLAMA_HOST and GLEANER_API_TOKEN. The Config type centralizes every knob the
// daemon and CLI need, so queue storage, content directories, model settings
// and workflow policy are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
