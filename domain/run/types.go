package run

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"gofingerprint/domain/core"
)

// Dataset roles in a replication run
const (
	RolePrimary     = "primary"
	RoleReplication = "replication"
)

// DatasetFingerprint pins one input file by size and content hash
type DatasetFingerprint struct {
	Key      string    `json:"key"`
	Role     string    `json:"role"`
	Filename string    `json:"filename"`
	Bytes    int64     `json:"bytes"`
	SHA256   core.Hash `json:"sha256"`
	Verified bool      `json:"verified"` // checked against a provenance manifest
}

// RunFingerprint ensures deterministic replay
type RunFingerprint struct {
	ConfigHash  core.Hash   `json:"config_hash"`
	DataHashes  []core.Hash `json:"data_hashes"`
	Seed        int64       `json:"seed"`
	CodeVersion string      `json:"code_version"`
	Fingerprint core.Hash   `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint creates a fingerprint from determinism parameters.
// Dataset order does not matter.
func NewRunFingerprint(configHash core.Hash, datasets []DatasetFingerprint, seed int64, codeVersion string) RunFingerprint {
	hashes := make([]core.Hash, 0, len(datasets))
	for _, d := range datasets {
		hashes = append(hashes, d.SHA256)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	return RunFingerprint{
		ConfigHash:  configHash,
		DataHashes:  hashes,
		Seed:        seed,
		CodeVersion: codeVersion,
		Fingerprint: computeRunFingerprint(configHash, hashes, seed, codeVersion),
	}
}

// computeRunFingerprint generates deterministic hash from all determinism parameters
func computeRunFingerprint(configHash core.Hash, dataHashes []core.Hash, seed int64, codeVersion string) core.Hash {
	parts := make([]string, len(dataHashes))
	for i, h := range dataHashes {
		parts[i] = h.String()
	}
	data := fmt.Sprintf("config:%s|data:%s|seed:%d|code:%s",
		configHash, strings.Join(parts, ","), seed, codeVersion)

	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}
