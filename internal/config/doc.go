// Package config loads, normalizes, and validates partforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PARTFORGE_LLM_API_KEY and OPENROUTER_API_KEY. The Config type centralizes
// every knob the pipeline and CLI need: reasoning service credentials, the
// optional segmentation service, extraction batch and round limits, and atlas
// packing parameters.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
