package config

import "strings"

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// IsProductionLike reports whether the environment must enforce explicit configuration.
func IsProductionLike(environment string) bool {
	switch strings.ToLower(environment) {
	case EnvStaging, EnvProduction:
		return true
	}
	return false
}
