package prefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileBackendKeepsValuesAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "5YJSA1E26FF000001.prefs.json")
	ctx := context.Background()

	first, err := New(ctx, NewFileBackend(path), Defaults{}, zap.NewNop())
	require.NoError(t, err)
	id, err := first.VehicleUUID(ctx)
	require.NoError(t, err)
	on := true
	dir := "/srv/exports/2024"
	require.NoError(t, first.Apply(ctx, Patch{SubmitAnonData: &on, LastExportDir: &dir}))

	second, err := New(ctx, NewFileBackend(path), Defaults{}, zap.NewNop())
	require.NoError(t, err)
	again, err := second.VehicleUUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.True(t, second.SubmitAnonData())
	assert.Equal(t, dir, second.LastExportDir())
}

func TestFileBackendMissingFileIsEmpty(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "none.json"))

	values, err := b.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestFileBackendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := New(context.Background(), NewFileBackend(path), Defaults{}, zap.NewNop())
	assert.Error(t, err)
}
