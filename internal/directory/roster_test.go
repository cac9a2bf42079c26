package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftgate/kiosk/internal/core"
)

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeRoster(t, `
subjects:
  - id: s-1001
    name: Dana Ruiz
    role: staff
    embeddings:
      - "AQID"
  - id: s-2001
    name: Omar Night
    role: security
  - id: s-3001
    name: No Role Given
`)

	m, err := LoadFile(path)
	require.NoError(t, err)

	ctx := context.Background()
	dana, err := m.Lookup(ctx, "s-1001")
	require.NoError(t, err)
	assert.Equal(t, "Dana Ruiz", dana.Name)
	assert.Equal(t, core.RoleStaff, dana.Role)
	require.Len(t, dana.Embeddings, 1)
	assert.Equal(t, []byte{1, 2, 3}, dana.Embeddings[0])

	omar, err := m.Lookup(ctx, "s-2001")
	require.NoError(t, err)
	assert.Equal(t, core.RoleSecurity, omar.Role)

	// Role defaults to staff when the roster omits it.
	blank, err := m.Lookup(ctx, "s-3001")
	require.NoError(t, err)
	assert.Equal(t, core.RoleStaff, blank.Role)

	// Only Dana carries a template.
	enrolled, err := m.AllWithEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, enrolled, 1)
	assert.Equal(t, "s-1001", enrolled[0].ID)
}

func TestLoadFileRejectsBadEntries(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing id", "subjects:\n  - name: Ghost\n"},
		{"unknown role", "subjects:\n  - id: s-1\n    role: contractor\n"},
		{"bad embedding", "subjects:\n  - id: s-1\n    embeddings: [\"not base64!!\"]\n"},
		{"not yaml", "{{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeRoster(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
