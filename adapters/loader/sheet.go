package loader

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"gofingerprint/domain/core"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal"
	"gofingerprint/internal/errors"
	"gofingerprint/ports"

	"github.com/xuri/excelize/v2"
)

// column roles recognised in a spreadsheet header row
const (
	colEll = iota
	colValue
	colSigma
	colSigmaMinus
	colSigmaPlus
	numRoles
)

var headerAliases = map[string]int{
	"l": colEll, "ell": colEll, "multipole": colEll,
	"value": colValue, "dl": colValue, "cl": colValue, "d_ell": colValue, "c_ell": colValue, "d_l": colValue, "c_l": colValue,
	"sigma": colSigma, "err": colSigma, "error": colSigma, "ddl": colSigma, "dcl": colSigma,
	"sigma_minus": colSigmaMinus, "-ddl": colSigmaMinus, "lower": colSigmaMinus, "err_minus": colSigmaMinus,
	"sigma_plus": colSigmaPlus, "+ddl": colSigmaPlus, "upper": colSigmaPlus, "err_plus": colSigmaPlus,
}

// SpreadsheetLoader reads the first sheet of an .xlsx export. A header row
// names the columns; without one the columns are positional like TextLoader.
type SpreadsheetLoader struct {
	logger *internal.Logger
}

// NewSpreadsheetLoader creates a spreadsheet loader
func NewSpreadsheetLoader() *SpreadsheetLoader {
	return &SpreadsheetLoader{logger: internal.DefaultLogger.With("SpreadsheetLoader")}
}

// LoadSpectrum implements ports.SpectrumLoaderPort
func (l *SpreadsheetLoader) LoadSpectrum(ctx context.Context, path string, opts ports.LoadOptions) (*ports.LoadedSpectrum, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithCode(errors.CodeCancelled, err)
	}
	data, err := readChecked(path, opts.SHA256)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: expected an .xlsx workbook", path), err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: workbook has no sheets", path), core.ErrInsufficientData)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: failed to read sheet %q", path, sheets[0]), err)
	}
	l.logger.Debug("%s sheet %q read in %.2fms (%d rows)", path, sheets[0], float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	name := opts.Name
	if name == "" {
		name = path
	}
	loaded, err := parseRows(rows, path, name)
	if err != nil {
		return nil, err
	}
	if opts.UnitsHint != spectrum.UnitsUnknown {
		loaded.UnitsHint = opts.UnitsHint
		loaded.Spectrum = loaded.Spectrum.WithUnits(opts.UnitsHint)
	}
	return loaded, nil
}

// parseRows maps header names to column roles and parses the remaining rows
func parseRows(rows [][]string, path, name string) (*ports.LoadedSpectrum, error) {
	if len(rows) == 0 {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: expected at least one data row, found none", path), core.ErrInsufficientData)
	}

	roles := [numRoles]int{0, 1, -1, -1, -1}
	var columns []string
	var hint spectrum.Units
	first := 0

	header := trimCells(rows[0])
	if len(header) > 0 && looksLikeHeader(strings.Join(header, " ")) {
		first = 1
		columns = header
		roles = [numRoles]int{-1, -1, -1, -1, -1}
		for i, h := range header {
			key := strings.ToLower(h)
			if role, ok := headerAliases[key]; ok && roles[role] < 0 {
				roles[role] = i
			}
			if hint == spectrum.UnitsUnknown {
				hint = unitsHint(h)
			}
		}
		if roles[colEll] < 0 || roles[colValue] < 0 {
			return nil, errors.InputInvalid(
				fmt.Sprintf("%s: expected header columns for ell and value, found %v", path, header),
				core.ErrMalformedInput)
		}
	} else if len(header) > 2 {
		if len(header) == 3 {
			roles[colSigma] = 2
		} else {
			roles[colSigmaMinus], roles[colSigmaPlus] = 2, 3
		}
	}

	points := make([]spectrum.Point, 0, len(rows)-first)
	for i := first; i < len(rows); i++ {
		row := trimCells(rows[i])
		if len(row) == 0 {
			continue
		}
		fields := []string{cell(row, roles[colEll]), cell(row, roles[colValue])}
		switch {
		case roles[colSigmaMinus] >= 0 && roles[colSigmaPlus] >= 0:
			fields = append(fields, cell(row, roles[colSigmaMinus]), cell(row, roles[colSigmaPlus]))
		case roles[colSigma] >= 0:
			fields = append(fields, cell(row, roles[colSigma]))
		}
		pt, err := parsePoint(fields)
		if err != nil {
			return nil, errors.InputInvalid(fmt.Sprintf("%s: row %d: %v", path, i+1, err), core.ErrMalformedInput)
		}
		if n := len(points); n > 0 && pt.Ell <= points[n-1].Ell {
			return nil, errors.InputInvalid(
				fmt.Sprintf("%s: row %d: expected ell > %d, found %d", path, i+1, points[n-1].Ell, pt.Ell),
				core.ErrNonMonotonicEll)
		}
		points = append(points, pt)
	}
	if len(points) == 0 {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: expected at least one data row, found none", path), core.ErrInsufficientData)
	}

	s, err := spectrum.New(name, hint, points)
	if err != nil {
		return nil, errors.InputInvalid(path, err)
	}
	return &ports.LoadedSpectrum{Spectrum: s, UnitsHint: hint, Columns: columns}, nil
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	// GetRows already drops trailing empty cells; blank rows come back empty
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
