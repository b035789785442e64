package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstEnv(t *testing.T) {
	t.Setenv("PUMPRELAY_TEST_A", "")
	t.Setenv("PUMPRELAY_TEST_B", "b")
	assert.Equal(t, "b", FirstEnv("PUMPRELAY_TEST_A", "PUMPRELAY_TEST_B"))
	assert.Empty(t, FirstEnv("PUMPRELAY_TEST_A"))
}
