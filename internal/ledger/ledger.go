// Package ledger implements the change ledger: a persisted snapshot of
// absolutePath -> contentHash used to diff the current file set against
// the last successful indexing run, so the incremental pipeline only
// has to re-embed what actually changed.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	indexerrors "github.com/semindex/semindex/internal/errors"
)

// FileName is the ledger snapshot's name under the project's data directory.
const FileName = "ledger.json"

// entry is one file's record inside the persisted snapshot.
type entry struct {
	Hash        string `json:"hash"`
	IsDirectory bool   `json:"isDirectory"`
}

// snapshotRoot is the top-level persisted shape (see Snapshot.MarshalJSON
// for the wire layout this mirrors).
type snapshotRoot struct {
	Hash     string           `json:"hash"`
	Children map[string]entry `json:"children"`
}

// Snapshot is a change ledger as loaded from or about to be written to disk.
type Snapshot struct {
	Root      snapshotRoot `json:"root"`
	Timestamp time.Time    `json:"timestamp"`
	FileCount int          `json:"fileCount"`
	TotalHash string       `json:"totalHash"`
}

// Diff is the result of comparing a current path set against a Snapshot.
type Diff struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Ledger manages the on-disk snapshot for one project.
type Ledger struct {
	path string
}

// New creates a Ledger backed by <dataDir>/ledger.json.
func New(dataDir string) *Ledger {
	return &Ledger{path: filepath.Join(dataDir, FileName)}
}

// Path returns the snapshot file path.
func (l *Ledger) Path() string {
	return l.path
}

// HashFile computes the content hash the ledger uses for a single file,
// a plain SHA-256 over its bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", indexerrors.IOError("failed to open file for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", indexerrors.IOError("failed to hash file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Load reads the persisted snapshot. A missing file is not an error: it
// returns an empty Snapshot so Diff degenerates to "everything is added".
func (l *Ledger) Load() (*Snapshot, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{Root: snapshotRoot{Children: map[string]entry{}}}, nil
		}
		return nil, indexerrors.IOError("failed to read change ledger", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, indexerrors.ConfigError("change ledger file is corrupt", err)
	}
	if snap.Root.Children == nil {
		snap.Root.Children = map[string]entry{}
	}
	return &snap, nil
}

// Diff compares the stored snapshot against currentHashes (absolutePath
// -> contentHash, computed by the caller via HashFile) and returns which
// paths were added, modified, or deleted since the snapshot was taken.
// A missing snapshot reports every current path as added.
func (l *Ledger) Diff(currentHashes map[string]string) (Diff, error) {
	snap, err := l.Load()
	if err != nil {
		return Diff{}, err
	}
	return diffAgainst(snap, currentHashes), nil
}

func diffAgainst(snap *Snapshot, currentHashes map[string]string) Diff {
	var d Diff

	for path, hash := range currentHashes {
		stored, existed := snap.Root.Children[path]
		switch {
		case !existed:
			d.Added = append(d.Added, path)
		case stored.Hash != hash:
			d.Modified = append(d.Modified, path)
		}
	}

	for path := range snap.Root.Children {
		if _, stillPresent := currentHashes[path]; !stillPresent {
			d.Deleted = append(d.Deleted, path)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
	return d
}

// Commit replaces the stored snapshot with currentHashes and persists it
// atomically (write-temp, rename).
func (l *Ledger) Commit(currentHashes map[string]string) error {
	children := make(map[string]entry, len(currentHashes))
	paths := make([]string, 0, len(currentHashes))
	for path, hash := range currentHashes {
		children[path] = entry{Hash: hash, IsDirectory: false}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	root := snapshotRoot{Children: children}
	root.Hash = computeRootHash(paths, children)

	snap := Snapshot{
		Root:      root,
		Timestamp: time.Now(),
		FileCount: len(children),
		TotalHash: root.Hash,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return indexerrors.IOError("failed to encode change ledger", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return indexerrors.IOError("failed to create data directory", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return indexerrors.IOError("failed to write change ledger", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return indexerrors.IOError("failed to commit change ledger", err)
	}
	return nil
}

// computeRootHash folds all child hashes into one whole-tree hash, over
// paths in sorted order so the result is independent of map iteration.
func computeRootHash(sortedPaths []string, children map[string]entry) string {
	h := sha256.New()
	for _, p := range sortedPaths {
		io.WriteString(h, p)
		io.WriteString(h, "\x00")
		io.WriteString(h, children[p].Hash)
		io.WriteString(h, "\x00")
	}
	return hex.EncodeToString(h.Sum(nil))
}
