package provenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gofingerprint/domain/core"
	"gofingerprint/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (dir, dataPath, manifestPath string) {
	t.Helper()
	dir = t.TempDir()
	dataPath = filepath.Join(dir, "planck_tt.txt")
	require.NoError(t, os.WriteFile(dataPath, []byte("2 1000 10\n3 1100 11\n"), 0o644))

	m, err := Build(map[string]string{"planck.tt": dataPath})
	require.NoError(t, err)
	manifestPath = filepath.Join(dir, "manifest.json")
	require.NoError(t, WriteManifest(manifestPath, m))
	return dir, dataPath, manifestPath
}

func TestVerify_Match(t *testing.T) {
	_, dataPath, manifestPath := setup(t)
	v, err := Open(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"planck.tt"}, v.Keys())

	fp, err := v.Verify(context.Background(), "planck.tt", dataPath)
	require.NoError(t, err)
	assert.True(t, fp.Verified)
	assert.Equal(t, int64(20), fp.Bytes)
	assert.Equal(t, core.NewHash([]byte("2 1000 10\n3 1100 11\n")), fp.SHA256)
	assert.Equal(t, "planck_tt.txt", fp.Filename)
}

func TestVerify_Mismatches(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
		want    error
	}{
		{"size", "2 1000 10\n", "planck.tt", core.ErrSizeMismatch},
		{"hash", "2 1000 10\n3 1100 12\n", "planck.tt", core.ErrHashMismatch},
		{"unregistered", "2 1000 10\n3 1100 11\n", "wmap", core.ErrNotRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, _, manifestPath := setup(t)
			other := filepath.Join(dir, "other.txt")
			require.NoError(t, os.WriteFile(other, []byte(tt.content), 0o644))

			v, err := Open(manifestPath)
			require.NoError(t, err)
			fp, err := v.Verify(context.Background(), tt.key, other)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, errors.CodeProvenanceMismatch, errors.GetCode(err))
			assert.False(t, fp.Verified)
		})
	}
}

func TestVerify_SizeEvidence(t *testing.T) {
	dir, _, manifestPath := setup(t)
	other := filepath.Join(dir, "short.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	v, err := Open(manifestPath)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), "planck.tt", other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected_bytes=20")
	assert.Contains(t, err.Error(), "found_bytes=1")
}

func TestOpen_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    string
	}{
		{"html", "<!DOCTYPE html><html></html>", errors.CodeInputInvalid},
		{"invalid json", "{\"datasets\": ", errors.CodeInputInvalid},
		{"no datasets", "{\"files\": {}}", errors.CodeInputInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "manifest.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Open(path)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}

	_, err := Open(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, errors.CodeProvenanceMismatch, errors.GetCode(err))
}

func TestEntry_KeysWithDotsAreLiteral(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	content := `{"datasets": {"a.b": {"filename": "x", "bytes": 3, "sha256": "ABC"}, "a": {"b": 1}}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v, err := Open(path)
	require.NoError(t, err)
	e, err := v.Entry("a.b")
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Bytes)
	assert.True(t, e.SHA256.Equals("abc"))

	_, err = v.Entry("a")
	assert.Equal(t, errors.CodeInputInvalid, errors.GetCode(err))
}
