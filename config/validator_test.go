package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Fallback = FallbackConfig{
		StateFile: "state.bin",
		Targets:   []TargetConfig{{Name: "cluster-a"}},
	}
	return cfg
}

func TestValidateOK(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, ValidateWithDetails(&cfg))
}

func TestValidateBadEnvironment(t *testing.T) {
	cfg := validConfig()
	cfg.App.Environment = "qa"

	err := ValidateWithDetails(&cfg)
	require.Error(t, err)

	var details ValidationErrors
	require.ErrorAs(t, err, &details)
	require.Len(t, details, 1)
	require.Contains(t, details[0].Field, "Environment")
	require.Contains(t, details[0].Message, "development staging production")
}

func TestValidateBadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "verbose"

	err := ValidateWithDetails(&cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must be one of")
}

func TestValidateBadStandaloneBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Standalone.Backend = "sqlite"

	require.Error(t, ValidateWithDetails(&cfg))
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.App.Name = ""
	cfg.Log.Level = "verbose"

	err := ValidateWithDetails(&cfg)
	require.Error(t, err)

	var details ValidationErrors
	require.ErrorAs(t, err, &details)
	require.GreaterOrEqual(t, len(details), 2)
	require.True(t, strings.HasPrefix(err.Error(), "configuration validation failed:"))
}

func TestValidationErrorsEmpty(t *testing.T) {
	require.Equal(t, "no validation errors", ValidationErrors{}.Error())
}
