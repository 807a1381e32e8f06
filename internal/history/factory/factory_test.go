package factory

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSinkFromDSNSQLitePath(t *testing.T) {
	sink, err := NewSinkFromDSN(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NotNil(t, sink)
	if c, ok := sink.(io.Closer); ok {
		require.NoError(t, c.Close())
	}
}

func TestNewSinkFromDSNSQLiteScheme(t *testing.T) {
	sink, err := NewSinkFromDSN("sqlite://" + filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NotNil(t, sink)
	if c, ok := sink.(io.Closer); ok {
		require.NoError(t, c.Close())
	}
}

func TestNewSinkFromDSNEmpty(t *testing.T) {
	_, err := NewSinkFromDSN("  ")
	require.Error(t, err)
}

func TestNewSinkFromDSNUnsupported(t *testing.T) {
	_, err := NewSinkFromDSN("mysql://root@localhost/db")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported DSN")
}
