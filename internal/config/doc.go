// Package config holds torcheck's configuration: defaults, the YAML file
// format, environment and flag overrides, and validation.
//
// Values are layered in this order, later wins: built-in defaults, the
// YAML file, TORCHECK_* environment variables, and explicitly set CLI flags.
package config
