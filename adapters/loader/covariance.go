package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gofingerprint/domain/core"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal"
	"gofingerprint/internal/errors"
	"gofingerprint/ports"
)

// CovarianceLoader reads a dense matrix aligned to a declared multipole
// range: text with one row per line, or raw little-endian float64 (.bin).
type CovarianceLoader struct {
	logger *internal.Logger
}

// NewCovarianceLoader creates a covariance loader
func NewCovarianceLoader() *CovarianceLoader {
	return &CovarianceLoader{logger: internal.DefaultLogger.With("CovarianceLoader")}
}

// LoadCovariance implements ports.CovarianceLoaderPort
func (l *CovarianceLoader) LoadCovariance(ctx context.Context, path string, ells []int, opts ports.LoadOptions) (*spectrum.Covariance, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithCode(errors.CodeCancelled, err)
	}
	n := len(ells)
	if n == 0 {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: no multipole range declared", path), core.ErrInsufficientData)
	}

	raw, err := readChecked(path, opts.SHA256)
	if err != nil {
		return nil, err
	}

	var data []float64
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		data, err = readBinary(bytes.NewReader(raw), path, n)
	} else {
		data, err = readTextMatrix(bytes.NewReader(raw), path, n)
	}
	if err != nil {
		return nil, err
	}

	c, err := spectrum.NewCovariance(ells, opts.UnitsHint, data)
	if err != nil {
		return nil, errors.InputInvalid(path, err)
	}
	l.logger.Debug("Loaded %s: %d×%d covariance for ell %d..%d", path, n, n, ells[0], ells[n-1])
	return c, nil
}

func readBinary(r io.Reader, path string, n int) ([]float64, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("cannot read %s", path), err)
	}
	want := n * n * 8
	if len(raw) != want {
		return nil, errors.InputInvalid(
			fmt.Sprintf("%s: expected %d bytes for a %d×%d float64 matrix, found %d", path, want, n, n, len(raw)),
			core.ErrRangeMismatch)
	}
	data := make([]float64, n*n)
	if _, err := binary.Decode(raw, binary.LittleEndian, data); err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: decode failed", path), err)
	}
	return data, nil
}

func readTextMatrix(r io.Reader, path string, n int) ([]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 256*1024), 64*1024*1024)

	data := make([]float64, 0, n*n)
	rows, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := splitFields(line)
		if len(fields) != n {
			return nil, errors.InputInvalid(
				fmt.Sprintf("%s:%d: expected %d columns for the declared range, found %d", path, lineNo, n, len(fields)),
				core.ErrRangeMismatch)
		}
		if rows == n {
			return nil, errors.InputInvalid(
				fmt.Sprintf("%s:%d: expected %d rows, found more", path, lineNo, n),
				core.ErrRangeMismatch)
		}
		for j, tok := range fields {
			v, err := parseFinite(tok, fmt.Sprintf("entry (%d,%d)", rows, j))
			if err != nil {
				return nil, errors.InputInvalid(fmt.Sprintf("%s:%d: %v", path, lineNo, err), core.ErrMalformedInput)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: read failed after line %d", path, lineNo), err)
	}
	if rows != n {
		return nil, errors.InputInvalid(
			fmt.Sprintf("%s: expected %d rows for the declared range, found %d", path, n, rows),
			core.ErrRangeMismatch)
	}
	return data, nil
}
