package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterServices(t *testing.T) {
	names := []string{"GitHub", "bank", "GitLab", "Αθήνα", "σίσυφος"}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"empty query", "", []string{"bank", "GitHub", "GitLab", "Αθήνα", "σίσυφος"}},
		{"substring", "git", []string{"GitHub", "GitLab"}},
		{"upper case query", "HUB", []string{"GitHub"}},
		{"surrounding space", "  bank ", []string{"bank"}},
		{"greek fold", "ΑΘΉΝΑ", []string{"Αθήνα"}},
		{"final sigma", "ΣΥΦΟΣ", []string{"σίσυφος"}},
		{"no match", "xyz", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterServices(names, tt.query))
		})
	}
}

func TestFilterServicesDoesNotAlias(t *testing.T) {
	names := []string{"b", "a"}
	out := FilterServices(names, "")
	out[0] = "changed"
	assert.Equal(t, []string{"b", "a"}, names)
}

func TestSortServicesTies(t *testing.T) {
	names := []string{"github", "GitHub", "Bank"}
	sortServices(names)
	assert.Equal(t, []string{"Bank", "GitHub", "github"}, names)
}
