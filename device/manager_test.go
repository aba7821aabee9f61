package device

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-securitas/securitas/internal/storage"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestEnsureGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("user@example.com", WithDir(dir), WithLogger(quietLogger()))

	id := m.Ensure()
	require.NotNil(t, id)

	path := filepath.Join(dir, "securitas_device_user@example.com.json")
	assert.Equal(t, path, m.Path())
	_, err := os.Stat(path)
	require.NoError(t, err)

	// A second manager loads the stored identity instead of regenerating.
	m2 := NewManager("user@example.com", WithDir(dir), WithLogger(quietLogger()))
	id2 := m2.Ensure()
	assert.Equal(t, id.IDDevice, id2.IDDevice)
	assert.Equal(t, id.UUID, id2.UUID)
	assert.Equal(t, id.GeneratedAt, id2.GeneratedAt)
}

func TestEnsureCachesIdentity(t *testing.T) {
	m := NewManager("user@example.com", WithDir(t.TempDir()), WithLogger(quietLogger()))
	first := m.Ensure()
	second := m.Ensure()
	assert.Same(t, first, second)
}

func TestEnsureRegeneratesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("user@example.com", WithDir(dir), WithLogger(quietLogger()))
	require.NoError(t, os.WriteFile(m.Path(), []byte("{not json"), 0600))

	id := m.Ensure()
	require.NotNil(t, id)
	require.NoError(t, uuid.Validate(id.UUID))

	// The corrupt file was replaced with the regenerated identity.
	var stored Identity
	require.NoError(t, storage.ReadJSON(m.Path(), &stored))
	assert.Equal(t, id.IDDevice, stored.IDDevice)
}

func TestEnsureRejectsInvalidIdentity(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("user@example.com", WithDir(dir), WithLogger(quietLogger()))
	bad := &Identity{
		IDDevice:           "short",
		UUID:               "not-a-uuid",
		IDDeviceIndigitall: "also-not-a-uuid",
	}
	require.NoError(t, storage.WriteJSON(m.Path(), bad))

	id := m.Ensure()
	require.NoError(t, uuid.Validate(id.UUID))
	assert.NotEqual(t, "short", id.IDDevice)
}

func TestEnsureSoftFailsOnUnwritableDir(t *testing.T) {
	// Point the manager at a path whose parent is a regular file, so the
	// write must fail regardless of privileges.
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	m := NewManager("user@example.com", WithDir(filepath.Join(blocker, "sub")), WithLogger(quietLogger()))
	id := m.Ensure()
	require.NotNil(t, id)
	require.NoError(t, uuid.Validate(id.UUID))
}

func TestInfo(t *testing.T) {
	m := NewManager("user@example.com", WithDir(t.TempDir()), WithLogger(quietLogger()))
	info := m.Info()

	id := m.Ensure()
	assert.Equal(t, id.UUID, info["uuid"])
	assert.Equal(t, id.Name, info["device_name"])
	assert.Equal(t, id.Brand, info["device_brand"])
	assert.Equal(t, id.OSVersion, info["device_os"])
	assert.Equal(t, id.Version, info["device_version"])
	assert.Equal(t, id.GeneratedAt, info["generated_time"])
}
