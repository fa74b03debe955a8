package store

import (
	"context"
	"path/filepath"
	"testing"

	"gofingerprint/adapters/store/filestore"
	"gofingerprint/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, filepath.Join(dir, "plain"))
	require.NoError(t, err)
	assert.IsType(t, &filestore.Store{}, s)

	s, err = Open(ctx, "file://"+filepath.Join(dir, "scheme"))
	require.NoError(t, err)
	fs := s.(*filestore.Store)
	assert.Equal(t, filepath.Join(dir, "scheme"), fs.Root())

	_, err = Open(ctx, "")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	_, err = Open(ctx, "s3://bucket/results")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
