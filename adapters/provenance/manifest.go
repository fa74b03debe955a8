// Package provenance pins input files to a pre-registered manifest of
// sizes and SHA-256 digests, and checks them before any statistics run.
package provenance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gofingerprint/adapters/loader"
	"gofingerprint/domain/core"
	"gofingerprint/domain/run"
	"gofingerprint/internal"
	"gofingerprint/internal/errors"
	"gofingerprint/ports"

	"github.com/tidwall/gjson"
)

const maxManifestBytes = 1 << 20

// Entry is the registered fingerprint of one dataset file
type Entry struct {
	Filename string    `json:"filename"`
	Bytes    int64     `json:"bytes"`
	SHA256   core.Hash `json:"sha256"`
}

// Manifest is the on-disk pre-registration:
//
//	{"datasets": {"<key>": {"filename": ..., "bytes": ..., "sha256": ...}}}
type Manifest struct {
	Datasets  map[string]Entry `json:"datasets"`
	CreatedAt core.Timestamp   `json:"created_at"`
}

// Verifier checks files against a loaded manifest
type Verifier struct {
	path   string
	raw    []byte
	logger *internal.Logger
}

var _ ports.ProvenancePort = (*Verifier)(nil)

// Open reads a manifest file. It is kept raw and queried per key.
func Open(path string) (*Verifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.ProvenanceMismatch(fmt.Sprintf("cannot open manifest %s", path), err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxManifestBytes+1))
	if err != nil {
		return nil, errors.ProvenanceMismatch(fmt.Sprintf("cannot read manifest %s", path), err)
	}
	if len(raw) > maxManifestBytes {
		return nil, errors.InputInvalid(fmt.Sprintf("manifest %s exceeds %d bytes", path, maxManifestBytes), core.ErrMalformedInput)
	}
	if err := loader.RejectHTML(path, raw); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.InputInvalid(fmt.Sprintf("manifest %s is not valid JSON", path), core.ErrMalformedInput)
	}
	if !gjson.GetBytes(raw, "datasets").IsObject() {
		return nil, errors.InputInvalid(fmt.Sprintf("manifest %s: expected a \"datasets\" object", path), core.ErrMalformedInput)
	}
	return &Verifier{path: path, raw: raw, logger: internal.DefaultLogger.With("Provenance")}, nil
}

// Keys lists the registered dataset keys in order
func (v *Verifier) Keys() []string {
	var keys []string
	gjson.GetBytes(v.raw, "datasets").ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	sort.Strings(keys)
	return keys
}

// Entry returns the registration for key. Keys are matched literally,
// so dots and wildcards in dataset names need no escaping.
func (v *Verifier) Entry(key string) (Entry, error) {
	var found gjson.Result
	gjson.GetBytes(v.raw, "datasets").ForEach(func(k, val gjson.Result) bool {
		if k.String() == key {
			found = val
			return false
		}
		return true
	})
	if !found.Exists() {
		return Entry{}, errors.ProvenanceMismatch(
			fmt.Sprintf("dataset %q is not registered in %s (registered: %v)", key, v.path, v.Keys()),
			core.ErrNotRegistered)
	}

	e := Entry{
		Filename: found.Get("filename").String(),
		Bytes:    found.Get("bytes").Int(),
		SHA256:   core.Hash(found.Get("sha256").String()),
	}
	if e.SHA256.IsEmpty() || !found.Get("bytes").Exists() {
		return Entry{}, errors.InputInvalid(
			fmt.Sprintf("manifest %s: dataset %q needs bytes and sha256", v.path, key),
			core.ErrMalformedInput)
	}
	return e, nil
}

// Verify checks size then digest of path against the entry for key
func (v *Verifier) Verify(ctx context.Context, key, path string) (run.DatasetFingerprint, error) {
	if err := ctx.Err(); err != nil {
		return run.DatasetFingerprint{}, errors.WithCode(errors.CodeCancelled, err)
	}
	want, err := v.Entry(key)
	if err != nil {
		return run.DatasetFingerprint{}, err
	}
	got, err := Fingerprint(key, path)
	if err != nil {
		return run.DatasetFingerprint{}, err
	}

	if got.Bytes != want.Bytes {
		e := errors.ProvenanceMismatch(fmt.Sprintf("%s: %s size differs from manifest", key, path), core.ErrSizeMismatch)
		e.Evidence = []core.Evidence{
			{Name: "expected_bytes", Value: float64(want.Bytes)},
			{Name: "found_bytes", Value: float64(got.Bytes)},
		}
		return got, e
	}
	if !got.SHA256.Equals(want.SHA256) {
		return got, errors.ProvenanceMismatch(
			fmt.Sprintf("%s: %s sha256 expected %s, found %s", key, path, want.SHA256, got.SHA256),
			core.ErrHashMismatch)
	}
	if want.Filename != "" && want.Filename != got.Filename {
		v.logger.Warn("%s: registered as %s but verified from %s", key, want.Filename, got.Filename)
	}

	got.Verified = true
	v.logger.Info("✅ %s verified (%s, %d bytes)", key, got.SHA256.Short(), got.Bytes)
	return got, nil
}

// Fingerprint computes the size and digest of a file without checking it
func Fingerprint(key, path string) (run.DatasetFingerprint, error) {
	d, err := core.DigestFile(path)
	if err != nil {
		return run.DatasetFingerprint{}, errors.InputInvalid(fmt.Sprintf("cannot fingerprint %s", path), err)
	}
	return run.DatasetFingerprint{
		Key:      key,
		Filename: filepath.Base(path),
		Bytes:    d.Bytes,
		SHA256:   d.SHA256,
	}, nil
}

// Build fingerprints every file, keyed by dataset key
func Build(files map[string]string) (*Manifest, error) {
	m := &Manifest{Datasets: make(map[string]Entry, len(files)), CreatedAt: core.Now()}
	for key, path := range files {
		fp, err := Fingerprint(key, path)
		if err != nil {
			return nil, err
		}
		m.Datasets[key] = Entry{Filename: fp.Filename, Bytes: fp.Bytes, SHA256: fp.SHA256}
	}
	return m, nil
}

// WriteManifest writes m as indented JSON, replacing path atomically
func WriteManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return errors.WithCode(errors.CodeStorage, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.WithCode(errors.CodeStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.WithCode(errors.CodeStorage, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WithCode(errors.CodeStorage, err)
	}
	return nil
}
