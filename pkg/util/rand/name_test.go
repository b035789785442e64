package rand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewName(t *testing.T) {
	for range 50 {
		name := NewName()
		parts := strings.Split(name, "-")
		require.Len(t, parts, 2, name)
		assert.Contains(t, adjectives, parts[0])
		assert.Contains(t, waters, parts[1])
	}
}
