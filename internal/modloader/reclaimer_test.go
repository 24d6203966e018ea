package modloader

import (
	"errors"
	"strings"
	"testing"

	"github.com/nfrund/modhost/internal/testutils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReclaimer_DefersUnloadUntilDrain(t *testing.T) {
	fs := afero.NewMemMapFs()
	platform := testutils.NewFakePlatform(fs)
	require.NoError(t, platform.WriteBuild("/m/libmod_a.so", "a", testutils.NewModuleBuild("a", "r", nil)))

	var closed []*Module
	r := NewReclaimer(func(m *Module, err error) {
		assert.NoError(t, err)
		closed = append(closed, m)
	})

	m, err := CreateFromPath(platform, "/m/libmod_a.so", r.Schedule)
	require.NoError(t, err)

	m.release()
	assert.Equal(t, 1, r.Pending())
	assert.Equal(t, 1, platform.OpenCount())
	assert.False(t, m.Reclaimed())

	assert.Equal(t, 1, r.Drain())
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, 0, platform.OpenCount())
	assert.True(t, m.Reclaimed())
	require.Len(t, closed, 1)

	assert.Equal(t, 0, r.Drain())
}

func TestReclaimer_UnloadFailureIsLoggedAndSkipped(t *testing.T) {
	logs := testutils.CaptureLogs(t)
	fs := afero.NewMemMapFs()
	platform := testutils.NewFakePlatform(fs)

	stuck := testutils.NewModuleBuild("stuck", "r", nil)
	stuck.CloseErr = errors.New("dlclose: busy")
	require.NoError(t, platform.WriteBuild("/m/libmod_stuck.so", "stuck", stuck))
	require.NoError(t, platform.WriteBuild("/m/libmod_fine.so", "fine", testutils.NewModuleBuild("fine", "r", nil)))

	var errs []error
	r := NewReclaimer(func(m *Module, err error) { errs = append(errs, err) })

	a, err := createFromPath(platform, "/m/libmod_stuck.so", "stuck", r.Schedule)
	require.NoError(t, err)
	b, err := CreateFromPath(platform, "/m/libmod_fine.so", r.Schedule)
	require.NoError(t, err)

	a.release()
	b.release()
	assert.Equal(t, 2, r.Drain())

	require.Len(t, errs, 2)
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, []string{"/m/libmod_stuck.so", "/m/libmod_fine.so"}, platform.ClosedPaths())
	assert.Contains(t, logs.String(), "Failed to unload the shared library")
	assert.Contains(t, logs.String(), "error_type=unload")
	assert.Contains(t, logs.String(), "context=stuck")
	assert.Equal(t, 1, strings.Count(logs.String(), "level=ERROR"), "one error line per failed unload")
}
