package loader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"gofingerprint/domain/core"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal"
	"gofingerprint/internal/errors"
	"gofingerprint/ports"
)

// TextLoader reads whitespace or comma separated spectra:
//
//	ℓ value            (σ = 0)
//	ℓ value σ
//	ℓ value σ- σ+      (extra columns ignored)
//
// Lines starting with # are comments; they may carry a unit hint and column names.
type TextLoader struct {
	logger *internal.Logger
}

// NewTextLoader creates a text loader
func NewTextLoader() *TextLoader {
	return &TextLoader{logger: internal.DefaultLogger.With("TextLoader")}
}

// LoadSpectrum implements ports.SpectrumLoaderPort
func (l *TextLoader) LoadSpectrum(ctx context.Context, path string, opts ports.LoadOptions) (*ports.LoadedSpectrum, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithCode(errors.CodeCancelled, err)
	}
	data, err := readChecked(path, opts.SHA256)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = path
	}
	loaded, err := parseText(bytes.NewReader(data), path, name)
	if err != nil {
		return nil, err
	}
	if opts.UnitsHint != spectrum.UnitsUnknown {
		loaded.UnitsHint = opts.UnitsHint
		loaded.Spectrum = loaded.Spectrum.WithUnits(opts.UnitsHint)
	}
	l.logger.Debug("Loaded %s: %d multipoles, units hint %q", path, loaded.Spectrum.Len(), loaded.UnitsHint)
	return loaded, nil
}

func splitFields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
}

// unitsHint extracts Dl or Cl from a comment or header line
func unitsHint(line string) spectrum.Units {
	lower := strings.ToLower(line)
	compact := strings.Join(strings.Fields(lower), "")
	if strings.Contains(compact, "l(l+1)") || strings.Contains(compact, "ell(ell+1)") {
		return spectrum.UnitsDl
	}
	for _, tok := range splitFields(lower) {
		tok = strings.Trim(tok, "[](){}:=\"'")
		if tok == "" {
			continue
		}
		if u, err := spectrum.ParseUnits(tok); err == nil && u != spectrum.UnitsUnknown {
			return u
		}
	}
	return spectrum.UnitsUnknown
}

func parseText(r io.Reader, path, name string) (*ports.LoadedSpectrum, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		hint     spectrum.Units
		hintLine int
		columns  []string
		points   []spectrum.Point
		width    int
		lineNo   int
	)
	noteHint := func(u spectrum.Units) error {
		if u == spectrum.UnitsUnknown {
			return nil
		}
		if hint != spectrum.UnitsUnknown && hint != u {
			return errors.InputInvalid(
				fmt.Sprintf("%s:%d: unit hint %s conflicts with %s declared on line %d", path, lineNo, u, hint, hintLine),
				core.ErrUnitsUndetermined)
		}
		if hint == spectrum.UnitsUnknown {
			hint, hintLine = u, lineNo
		}
		return nil
	}

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			body := strings.TrimSpace(strings.TrimLeft(line, "#"))
			if err := noteHint(unitsHint(body)); err != nil {
				return nil, err
			}
			if columns == nil && len(points) == 0 && !strings.ContainsAny(body, ":=") && looksLikeHeader(body) {
				columns = splitFields(body)
			}
			continue
		}

		fields := splitFields(line)
		if len(points) == 0 && columns == nil && looksLikeHeader(line) {
			columns = fields
			if err := noteHint(unitsHint(line)); err != nil {
				return nil, err
			}
			continue
		}
		if len(fields) < 2 {
			return nil, errors.InputInvalid(
				fmt.Sprintf("%s:%d: expected 2 to 4 numeric columns, found %d", path, lineNo, len(fields)),
				core.ErrMalformedInput)
		}
		if width == 0 {
			width = len(fields)
		} else if len(fields) != width {
			return nil, errors.InputInvalid(
				fmt.Sprintf("%s:%d: expected %d columns like the first data row, found %d", path, lineNo, width, len(fields)),
				core.ErrMalformedInput)
		}

		pt, err := parsePoint(fields)
		if err != nil {
			return nil, errors.InputInvalid(fmt.Sprintf("%s:%d: %v", path, lineNo, err), core.ErrMalformedInput)
		}
		if n := len(points); n > 0 && pt.Ell <= points[n-1].Ell {
			return nil, errors.InputInvalid(
				fmt.Sprintf("%s:%d: expected ell > %d, found %d", path, lineNo, points[n-1].Ell, pt.Ell),
				core.ErrNonMonotonicEll)
		}
		points = append(points, pt)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: read failed after line %d", path, lineNo), err)
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

// looksLikeHeader is true when the first field is not a number
func looksLikeHeader(line string) bool {
	fields := splitFields(line)
	if len(fields) < 2 {
		return false
	}
	_, err := strconv.ParseFloat(fields[0], 64)
	return err != nil
}

func parseEll(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected an integer multipole, found %q", s)
	}
	return int(f), nil
}

func parseFinite(s, what string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("expected a numeric %s, found %q", what, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("expected a finite %s, found %q", what, s)
	}
	return v, nil
}

func parsePoint(fields []string) (spectrum.Point, error) {
	var pt spectrum.Point
	ell, err := parseEll(fields[0])
	if err != nil {
		return pt, err
	}
	if ell < 0 {
		return pt, fmt.Errorf("expected ell >= 0, found %d", ell)
	}
	pt.Ell = ell
	if pt.Value, err = parseFinite(fields[1], "value"); err != nil {
		return pt, err
	}

	switch {
	case len(fields) == 2:
	case len(fields) == 3:
		s, err := parseFinite(fields[2], "uncertainty")
		if err != nil {
			return pt, err
		}
		if s < 0 {
			return pt, fmt.Errorf("expected uncertainty >= 0, found %g", s)
		}
		pt.SigmaMinus, pt.SigmaPlus = s, s
	default:
		lo, err := parseFinite(fields[2], "lower uncertainty")
		if err != nil {
			return pt, err
		}
		hi, err := parseFinite(fields[3], "upper uncertainty")
		if err != nil {
			return pt, err
		}
		if hi < 0 {
			return pt, fmt.Errorf("expected upper uncertainty >= 0, found %g", hi)
		}
		// some releases write the lower error with its sign
		pt.SigmaMinus, pt.SigmaPlus = math.Abs(lo), hi
	}
	return pt, nil
}
