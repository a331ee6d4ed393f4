package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestEnvValidator_Lookup(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"MY_REGION":     "eu-west-1",
		"PATH":          "/usr/bin",
		"DB_PASSWORD":   "hunter2",
		"NOT_ALLOWED":   "x",
		"path":          "lower",
		"EMPTY_BUT_SET": "",
	}
	v := NewEnvValidator([]string{"MY_REGION", "PATH", "path", "DB_PASSWORD", "MY_API_TOKEN", "EMPTY_BUT_SET"}, mapLookup(env))

	tests := []struct {
		name     string
		variable string
		want     EnvLookup
	}{
		{"allowed and set", "MY_REGION", EnvLookup{Value: "eu-west-1", Present: true, Outcome: EnvFound}},
		{"allowed but unset", "MY_API_TOKEN", EnvLookup{Outcome: EnvNotFound, Sensitive: true}},
		{"allowed and empty", "EMPTY_BUT_SET", EnvLookup{Present: true, Outcome: EnvFound}},
		{"not in allowlist", "NOT_ALLOWED", EnvLookup{Outcome: EnvNotAllowed}},
		{"denylist beats allowlist", "PATH", EnvLookup{Outcome: EnvAlwaysDenied}},
		{"denylist is case-insensitive", "path", EnvLookup{Outcome: EnvAlwaysDenied}},
		{"sensitive name still returned", "DB_PASSWORD", EnvLookup{Value: "hunter2", Present: true, Outcome: EnvFound, Sensitive: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, v.Lookup(tt.variable))
		})
	}
}

func TestEnvLookup_Denied(t *testing.T) {
	t.Parallel()

	assert.True(t, EnvLookup{Outcome: EnvAlwaysDenied}.Denied())
	assert.True(t, EnvLookup{Outcome: EnvNotAllowed}.Denied())
	assert.False(t, EnvLookup{Outcome: EnvNotFound}.Denied())
	assert.False(t, EnvLookup{Outcome: EnvFound}.Denied())
}

func TestIsAlwaysDenied(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"PATH", "HOME", "USER", "SHELL", "AWS_SECRET_ACCESS_KEY", "OPENAI_API_KEY", "anthropic_api_key"} {
		assert.True(t, IsAlwaysDenied(name), name)
	}
	assert.False(t, IsAlwaysDenied("MY_REGION"))
}
