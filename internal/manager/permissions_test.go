package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionHas(t *testing.T) {
	t.Parallel()

	p := PermBootOut
	assert.True(t, p.Has(PermBootOut))
	assert.False(t, p.Has(PermStart))
	assert.False(t, p.Has(PermAll))
	assert.False(t, p.Has(PermNone))
	assert.True(t, PermAll.Has(PermStart|PermBootOut))
}

func TestParsePermissions(t *testing.T) {
	t.Parallel()

	p, err := ParsePermissions([]string{"boot_out", " Start "})
	require.NoError(t, err)
	assert.Equal(t, PermAll, p)

	p, err = ParsePermissions([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, PermAll, p)

	_, err = ParsePermissions([]string{"delete"})
	assert.Error(t, err)

	assert.Equal(t, "boot_out|start", PermAll.String())
	assert.Equal(t, "none", PermNone.String())
	assert.Equal(t, PermStart, OpStart.Required())
}
