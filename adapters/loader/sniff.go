package loader

import (
	"bytes"
	"fmt"
	"os"

	"gofingerprint/domain/core"
	"gofingerprint/internal/errors"
)

const sniffLen = 512

// htmlMarkers are checked case-insensitively against the first non-blank bytes.
// Portal downloads that hit a login or error page arrive as HTML with a .txt name.
var htmlMarkers = [][]byte{
	[]byte("<!doctype"),
	[]byte("<html"),
	[]byte("<?xml"),
	[]byte("<head"),
	[]byte("<body"),
}

// RejectHTML fails with ErrHTMLPayload if head starts like a markup document
func RejectHTML(path string, head []byte) error {
	trimmed := bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	lower := bytes.ToLower(trimmed)
	for _, m := range htmlMarkers {
		if bytes.HasPrefix(lower, m) {
			return errors.InputInvalid(
				fmt.Sprintf("%s: expected numeric columns, found markup starting %q", path, string(trimmed[:min(len(trimmed), 32)])),
				core.ErrHTMLPayload)
		}
	}
	return nil
}

// readChecked reads path into memory and refuses HTML. When want is set the
// bytes must hash to it; parsers then run on exactly the verified bytes.
func readChecked(path string, want core.Hash) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("cannot read %s", path), err)
	}
	if !want.IsEmpty() {
		if got := core.NewHash(data); !got.Equals(want) {
			e := errors.ProvenanceMismatch(
				fmt.Sprintf("%s changed after verification: sha256 expected %s, found %s", path, want, got),
				core.ErrHashMismatch)
			e.Evidence = []core.Evidence{{Name: "read_bytes", Value: float64(len(data))}}
			return nil, e
		}
	}
	if err := RejectHTML(path, data[:min(len(data), sniffLen)]); err != nil {
		return nil, err
	}
	return data, nil
}
