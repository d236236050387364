package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAtLeastV16(t *testing.T) {
	cases := map[string]bool{
		"16.0.0":  true,
		"16.1.2":  true,
		"17.0.0":  true,
		"^16.0.0": true,
		"~16.0.0": true,
		"15.9.9":  false,
		"9.0.0":   false,
		"not-a-version": false,
	}

	for version, want := range cases {
		assert.Equal(t, want, isAtLeastV16(version), "version %q", version)
	}
}
