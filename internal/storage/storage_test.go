package storage

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"go.uber.org/zap"

	"github.com/example/selfie-capture/internal/capture"
	"github.com/example/selfie-capture/internal/logging"
)

func sampleImages() ([]capture.Image, capture.Image) {
	liveness := make([]capture.Image, 7)
	for i := range liveness {
		liveness[i] = capture.Image{Data: []byte{0xFF, 0xD8, byte(i)}, Spec: capture.LivenessSpec}
	}
	return liveness, capture.Image{Data: []byte{0xFF, 0xD8, 0x42}, Spec: capture.SelfieSpec}
}

func TestSaveAndPackageSession(t *testing.T) {
	root := t.TempDir()
	store := NewLocal(root, zap.NewNop())
	liveness, selfie := sampleImages()

	refs, err := store.SaveImages(liveness, selfie, "session-1")
	if err != nil {
		t.Fatalf("save images: %v", err)
	}
	if len(refs) != 8 {
		t.Fatalf("expected 8 files, got %d", len(refs))
	}

	artifact, err := store.PackageFiles("session-1", refs)
	if err != nil {
		t.Fatalf("package files: %v", err)
	}
	if artifact.Path != filepath.Join(root, "session-1", ArchiveName) {
		t.Fatalf("unexpected archive path %s", artifact.Path)
	}

	zr, err := zip.NewReader(bytes.NewReader(artifact.Bytes), int64(len(artifact.Bytes)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"liveness_1.jpg", "liveness_2.jpg", "liveness_3.jpg", "liveness_4.jpg", "liveness_5.jpg", "liveness_6.jpg", "liveness_7.jpg", "selfie.jpg"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}

	if err := store.Purge("session-1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "session-1")); !os.IsNotExist(err) {
		t.Fatalf("expected session dir to be removed, stat err: %v", err)
	}
}

func TestSaveImagesRejectsTraversal(t *testing.T) {
	store := NewLocal(t.TempDir(), zap.NewNop())
	liveness, selfie := sampleImages()

	_, err := store.SaveImages(liveness, selfie, "../escape")
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "storage.save_images" {
		t.Fatalf("expected save_images OperationError, got %v", err)
	}
}

func TestSaveImagesFailsOnUnwritableRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(root, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := NewLocal(root, zap.NewNop())
	liveness, selfie := sampleImages()

	if _, err := store.SaveImages(liveness, selfie, "session-2"); err == nil {
		t.Fatal("expected error when root is a file")
	}
}

func TestPackageFilesRequiresRefs(t *testing.T) {
	store := NewLocal(t.TempDir(), zap.NewNop())
	if _, err := store.PackageFiles("session-3", nil); err == nil {
		t.Fatal("expected error for empty refs")
	}
}
