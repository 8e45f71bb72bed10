package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "mirror", Normalize("  Mirror "))
	assert.Equal(t, "the old bridge", Normalize("The Old Bridge"))
	assert.Equal(t, "", Normalize("   "))
}

func TestMatchAnswer(t *testing.T) {
	tests := []struct {
		name      string
		accepted  string
		submitted string
		want      bool
	}{
		{"exact match", "mirror", "mirror", true},
		{"case and whitespace normalized", "Mirror", "  mIrRoR ", true},
		{"second variant matches", "mirror|the mirror", "the mirror", true},
		{"variant with padding matches", "mirror | the mirror", "the mirror", true},
		{"wrong answer", "mirror", "monkey", false},
		{"no partial matching", "mirror", "mirr", false},
		{"empty submission never matches", "mirror|", "", false},
		{"numeric variants", "220000|220,000", "220,000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchAnswer(tt.accepted, tt.submitted))
		})
	}
}
