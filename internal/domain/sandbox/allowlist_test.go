package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkAllowlist_IsAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		patterns []string
		host     string
		want     bool
	}{
		{"exact match", []string{"api.example.com"}, "api.example.com", true},
		{"exact is case-insensitive", []string{"API.Example.com"}, "api.EXAMPLE.com", true},
		{"exact does not match subdomain", []string{"example.com"}, "api.example.com", false},
		{"wildcard matches subdomain", []string{"*.example.com"}, "sub.example.com", true},
		{"wildcard matches nested subdomain", []string{"*.example.com"}, "a.b.example.com", true},
		{"wildcard does not match apex", []string{"*.example.com"}, "example.com", false},
		{"wildcard does not match lookalike", []string{"*.example.com"}, "evilexample.com", false},
		{"wildcard is case-insensitive", []string{"*.Example.COM"}, "Sub.example.com", true},
		{"star allows anything", []string{"*"}, "anything.test", true},
		{"empty list denies", nil, "example.com", false},
		{"blank entries ignored", []string{"", "  "}, "example.com", false},
		{"mixed list", []string{"a.test", "*.b.test"}, "x.b.test", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewNetworkAllowlist(tt.patterns)
			assert.Equal(t, tt.want, a.IsAllowed(tt.host))
		})
	}
}

func TestNetworkAllowlist_Empty(t *testing.T) {
	t.Parallel()

	assert.True(t, NewNetworkAllowlist(nil).Empty())
	assert.False(t, NewNetworkAllowlist([]string{"*"}).Empty())
	assert.False(t, NewNetworkAllowlist([]string{"*.x.test"}).Empty())
}
