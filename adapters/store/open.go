// Package store picks a ports.ResultStore implementation from a DSN
package store

import (
	"context"
	"fmt"
	"strings"

	"gofingerprint/adapters/postgres"
	"gofingerprint/adapters/store/filestore"
	"gofingerprint/internal/errors"
	"gofingerprint/ports"
)

// Open accepts postgres://, postgresql://, file:// or a bare directory path
func Open(ctx context.Context, dsn string) (ports.ResultStore, error) {
	switch {
	case dsn == "":
		return nil, errors.ConfigInvalid("result store DSN is empty")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pg, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case strings.HasPrefix(dsn, "file://"):
		return openDir(strings.TrimPrefix(dsn, "file://"))
	case strings.Contains(dsn, "://"):
		return nil, errors.ConfigInvalid(fmt.Sprintf("unsupported result store scheme in %q", dsn))
	default:
		return openDir(dsn)
	}
}

func openDir(dir string) (ports.ResultStore, error) {
	fs, err := filestore.New(dir)
	if err != nil {
		return nil, err
	}
	return fs, nil
}
