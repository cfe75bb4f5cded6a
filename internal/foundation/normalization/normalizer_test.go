package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type policy string

func TestNormalizer(t *testing.T) {
	n := NewNormalizer(map[string]policy{"pull-push": "pull-push", "pull": "pull", "push": "push"}, "pull-push")

	assert.Equal(t, policy("pull"), n.Normalize("  PULL "))
	assert.Equal(t, policy("pull-push"), n.Normalize("bogus"))

	v, err := n.Parse("")
	require.NoError(t, err)
	assert.Equal(t, policy("pull-push"), v)

	_, err = n.Parse("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[pull pull-push push]")
}
