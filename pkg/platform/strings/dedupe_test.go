package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil stays nil", nil, nil},
		{"empty stays empty", []string{}, []string{}},
		{"trims and keeps first occurrence", []string{" lab_results ", "imaging", "lab_results"}, []string{"lab_results", "imaging"}},
		{"drops blanks", []string{"", "  ", "genetic"}, []string{"genetic"}},
		{"case sensitive", []string{"Genetic", "genetic"}, []string{"Genetic", "genetic"}},
		{"only blanks", []string{" ", ""}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.in))
		})
	}
}

func TestDedupeRegions(t *testing.T) {
	assert.Equal(t, []string{"EU", "US-CA"}, DedupeRegions([]string{"eu", " EU ", "us-ca", ""}))
}

func TestDedupeFunc(t *testing.T) {
	first := func(s string) string {
		if s == "" {
			return ""
		}
		return s[:1]
	}
	assert.Equal(t, []string{"a", "b"}, DedupeFunc([]string{"apple", "avocado", "banana", ""}, first))
}
