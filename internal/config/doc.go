// Package config loads and validates the node configuration.
//
// Configuration is read from a JSON or YAML file (chosen by extension), then
// overlaid with SOLNODE_* environment variables. Validation is performed once
// at startup; an invalid configuration is fatal and the engine does not
// start.
package config
