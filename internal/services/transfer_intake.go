package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultProofTypes are the proof-of-payment formats accepted for transfers.
var DefaultProofTypes = []string{"image/png", "image/jpeg", "application/pdf"}

// ProofFile is an uploaded proof of a manual bank transfer.
type ProofFile struct {
	Filename string
	Data     []byte
}

// ArtifactStorage keeps proof files and returns a reference to them.
type ArtifactStorage interface {
	Store(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// TransferIntake validates proof files and hands them to storage.
type TransferIntake struct {
	storage      ArtifactStorage
	allowedTypes []string
	maxBytes     int64
}

func NewTransferIntake(storage ArtifactStorage, maxBytes int64, allowedTypes ...string) *TransferIntake {
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultProofTypes
	}
	return &TransferIntake{storage: storage, allowedTypes: allowedTypes, maxBytes: maxBytes}
}

// Validate sniffs the content type of the proof and returns it. The declared
// file extension is not trusted.
func (t *TransferIntake) Validate(proof ProofFile) (string, error) {
	if len(proof.Data) == 0 {
		return "", validationErr("proof", "file is empty")
	}
	if t.maxBytes > 0 && int64(len(proof.Data)) > t.maxBytes {
		return "", validationErr("proof", fmt.Sprintf("file exceeds %d bytes", t.maxBytes))
	}

	detected := mimetype.Detect(proof.Data)
	if !mimetype.EqualsAny(detected.String(), t.allowedTypes...) {
		return "", validationErr("proof", "file type "+detected.String()+" is not allowed, use "+strings.Join(t.allowedTypes, ", "))
	}
	return detected.String(), nil
}

// Accept stores a previously validated proof.
func (t *TransferIntake) Accept(ctx context.Context, proof ProofFile, contentType string) (string, error) {
	ref, err := t.storage.Store(ctx, proof.Filename, contentType, proof.Data)
	if err != nil {
		return "", &StorageError{Op: "store proof", Err: err}
	}
	return ref, nil
}

// LocalArtifactStorage writes artifacts to a directory, named by content
// hash so a re-submitted proof maps to the same file.
type LocalArtifactStorage struct {
	dir       string
	publicURL string
}

func NewLocalArtifactStorage(dir, publicURL string) *LocalArtifactStorage {
	return &LocalArtifactStorage{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}
}

func (s *LocalArtifactStorage) Store(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:])
	if m := mimetype.Lookup(contentType); m != nil {
		name += m.Extension()
	}
	path := filepath.Join(s.dir, name)

	if _, err := os.Stat(path); err == nil {
		return s.publicURL + "/" + name, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".proof-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return s.publicURL + "/" + name, nil
}
