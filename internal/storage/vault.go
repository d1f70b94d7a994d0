package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Vault is a content-addressed blob store for scan images. Blobs live at
// <dir>/<sha[:2]>/<sha>, so identical uploads share one file and a digest is
// all that is needed to find or delete one.
type Vault struct {
	dir string
}

// StoredBlob describes one saved blob.
type StoredBlob struct {
	// Key is the vault-relative storage path.
	Key    string
	SHA256 string
	Size   int64
}

// NewVault creates the vault root if needed.
func NewVault(dir string) (*Vault, error) {
	if dir == "" {
		return nil, errors.New("vault directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}
	return &Vault{dir: dir}, nil
}

// Save writes data under its content digest. Saving the same bytes twice is
// a cheap no-op that returns the same blob.
func (v *Vault) Save(data []byte) (StoredBlob, error) {
	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])
	blob := StoredBlob{
		Key:    filepath.Join(sha[:2], sha),
		SHA256: sha,
		Size:   int64(len(data)),
	}

	path := filepath.Join(v.dir, blob.Key)
	if _, err := os.Stat(path); err == nil {
		return blob, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return StoredBlob{}, fmt.Errorf("creating blob directory: %w", err)
	}
	// Write-then-rename keeps a crashed write from leaving a torn blob at
	// the addressed path.
	tmp, err := os.CreateTemp(v.dir, "blob-*")
	if err != nil {
		return StoredBlob{}, fmt.Errorf("creating temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return StoredBlob{}, fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return StoredBlob{}, fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return StoredBlob{}, fmt.Errorf("placing blob: %w", err)
	}
	return blob, nil
}

// Read returns the blob for a digest.
func (v *Vault) Read(sha string) ([]byte, error) {
	if len(sha) < 3 {
		return nil, fmt.Errorf("malformed digest %q", sha)
	}
	return os.ReadFile(filepath.Join(v.dir, sha[:2], sha))
}

// Remove deletes the blob for a digest. Removing an absent blob is not an
// error; retention sweeps may race a manual cleanup.
func (v *Vault) Remove(sha string) error {
	if len(sha) < 3 {
		return fmt.Errorf("malformed digest %q", sha)
	}
	err := os.Remove(filepath.Join(v.dir, sha[:2], sha))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
