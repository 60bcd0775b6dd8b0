package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTransferIntakeValidate(t *testing.T) {
	intake := NewTransferIntake(&fakeStorage{}, 1024)

	cases := []struct {
		name string
		data []byte
		want string
		ok   bool
	}{
		{"png", pngProof, "image/png", true},
		{"pdf", pdfProof, "application/pdf", true},
		{"text", txtProof, "", false},
		{"empty", nil, "", false},
		{"too large", append(append([]byte{}, pdfProof...), make([]byte, 2048)...), "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ct, err := intake.Validate(ProofFile{Filename: "proof.png", Data: tc.data})
			if tc.ok {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				if ct != tc.want {
					t.Fatalf("content type = %q, want %q", ct, tc.want)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) || vErr.Field != "proof" {
				t.Fatalf("expected proof validation error, got %v", err)
			}
		})
	}
}

func TestTransferIntakeRestrictedTypes(t *testing.T) {
	intake := NewTransferIntake(&fakeStorage{}, 0, "application/pdf")

	if _, err := intake.Validate(ProofFile{Data: pngProof}); err == nil {
		t.Fatalf("png accepted by a pdf-only intake")
	}
	if _, err := intake.Validate(ProofFile{Data: pdfProof}); err != nil {
		t.Fatalf("pdf rejected: %v", err)
	}
}

func TestTransferIntakeAcceptWrapsStorageErrors(t *testing.T) {
	intake := NewTransferIntake(&fakeStorage{err: errBoom}, 0)

	_, err := intake.Accept(context.Background(), ProofFile{Filename: "p.png", Data: pngProof}, "image/png")
	var sErr *StorageError
	if !errors.As(err, &sErr) || !errors.Is(err, errBoom) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestLocalArtifactStorageDedupesByContent(t *testing.T) {
	dir := t.TempDir()
	storage := NewLocalArtifactStorage(dir, "/uploads/")
	ctx := context.Background()

	first, err := storage.Store(ctx, "a.png", "image/png", pngProof)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !strings.HasPrefix(first, "/uploads/") || !strings.HasSuffix(first, ".png") {
		t.Fatalf("reference = %q", first)
	}

	second, err := storage.Store(ctx, "renamed.png", "image/png", pngProof)
	if err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if second != first {
		t.Fatalf("same content stored twice: %q vs %q", first, second)
	}

	other, err := storage.Store(ctx, "b.pdf", "application/pdf", pdfProof)
	if err != nil {
		t.Fatalf("Store pdf: %v", err)
	}
	if other == first || !strings.HasSuffix(other, ".pdf") {
		t.Fatalf("pdf reference = %q", other)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("files on disk = %d, want 2", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(first, "/uploads/")))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != string(pngProof) {
		t.Fatalf("stored bytes differ")
	}
}

func TestLocalArtifactStorageHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalArtifactStorage(t.TempDir(), "/uploads").Store(ctx, "a.png", "image/png", pngProof)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
