package host

import (
	"testing"

	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/stretchr/testify/require"
)

type closeCounter struct{ closed int }

func (c *closeCounter) Close() error { c.closed++; return nil }

func TestHandleTable(t *testing.T) {
	ht := NewHandleTable(nil)

	var a, b closeCounter
	ha, err := ht.Add(&a)
	require.NoError(t, err)
	hb, err := ht.Add(&b)
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
	require.Equal(t, 2, ht.Len())

	got, err := ht.Get(ha)
	require.NoError(t, err)
	require.Equal(t, &a, got)

	require.NoError(t, ht.Release(ha))
	require.Equal(t, 1, a.closed)
	require.ErrorIs(t, ht.Release(ha), vfs.ErrorInvalidValues)

	_, err = ht.Get(ha)
	require.ErrorIs(t, err, vfs.ErrorInvalidValues)

	// Released handles are reused.
	var c closeCounter
	hc, err := ht.Add(&c)
	require.NoError(t, err)
	require.Equal(t, ha, hc)
}
