// Package config loads and validates gateway configuration from YAML files.
//
// Configuration files support ${VAR} environment variable substitution, which
// keeps credentials out of checked-in files. Absent API credentials are valid
// and downgrade the upstream connection to public-data-only mode.
package config
