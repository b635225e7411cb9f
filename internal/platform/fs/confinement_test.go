// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfineRelPath(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "renders"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "model.stl"), []byte("solid"), 0o600))
	// Link pointing at the parent of the root.
	require.NoError(t, os.Symlink("..", filepath.Join(tmpDir, "link_outside")))

	tests := []struct {
		name     string
		target   string
		wantErr  error
		wantPath string
	}{
		{name: "simple file", target: "model.stl", wantPath: "model.stl"},
		{name: "missing file in existing dir", target: "renders/job.mp4", wantPath: filepath.Join("renders", "job.mp4")},
		{name: "dotdot inside name", target: "a..b.stl", wantPath: "a..b.stl"},
		{name: "collapsing dotdot", target: "renders/../model.stl", wantPath: "model.stl"},
		{name: "traversal", target: "../outside.stl", wantErr: ErrEscapesRoot},
		{name: "deep traversal", target: "renders/../../../etc/passwd", wantErr: ErrEscapesRoot},
		{name: "absolute", target: "/etc/passwd", wantErr: ErrBadPath},
		{name: "backslash", target: `renders\..\..\x`, wantErr: ErrBadPath},
		{name: "symlink escape", target: "link_outside/foo", wantErr: ErrEscapesRoot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConfineRelPath(tmpDir, tt.target)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(got, tt.wantPath), "got %s", got)
		})
	}
}

func TestConfineAbsPath(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	safe := filepath.Join(root, "job.mp4")
	require.NoError(t, os.WriteFile(safe, []byte("ok"), 0o600))
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("no"), 0o600))
	link := filepath.Join(root, "sneaky.mp4")
	require.NoError(t, os.Symlink(secret, link))

	got, err := ConfineAbsPath(root, safe)
	require.NoError(t, err)
	assert.Equal(t, "job.mp4", filepath.Base(got))

	_, err = ConfineAbsPath(root, secret)
	assert.ErrorIs(t, err, ErrEscapesRoot)

	_, err = ConfineAbsPath(root, link)
	assert.ErrorIs(t, err, ErrEscapesRoot, "symlink to outside file must not be served")

	_, err = ConfineAbsPath(root, filepath.Join(root, "..", filepath.Base(outside), "secret.txt"))
	assert.ErrorIs(t, err, ErrEscapesRoot)

	_, err = ConfineAbsPath(root, "job.mp4")
	assert.ErrorIs(t, err, ErrBadPath)
}

func TestIsRegularFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	assert.NoError(t, IsRegularFile(file))
	assert.Error(t, IsRegularFile(dir))
	assert.Error(t, IsRegularFile(filepath.Join(dir, "missing")))
}
