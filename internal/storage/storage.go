// Package storage persists captured images per session and packages them
// into the zip archive submitted for verification.
package storage

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/example/selfie-capture/internal/capture"
	"github.com/example/selfie-capture/internal/logging"
)

// ArchiveName is the file name of the packaged artifact in a session directory.
const ArchiveName = "selfie.zip"

// FileRef points at one persisted image.
type FileRef struct {
	Name string
	Path string
}

// PackagedArtifact is the serialized bundle of a session's images.
type PackagedArtifact struct {
	Path  string
	Bytes []byte
}

// Local stores session files under Root/<session id>/.
type Local struct {
	root   string
	logger *zap.Logger
}

// NewLocal builds a local store rooted at root.
func NewLocal(root string, logger *zap.Logger) *Local {
	return &Local{root: root, logger: logger.Named("storage")}
}

// SessionDir returns the directory used for a session.
func (l *Local) SessionDir(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(l.root, sessionID), nil
}

// SaveImages writes liveness_<n>.jpg files and selfie.jpg for a session.
func (l *Local) SaveImages(liveness []capture.Image, selfie capture.Image, sessionID string) ([]FileRef, error) {
	dir, err := l.SessionDir(sessionID)
	if err != nil {
		return nil, logging.NewOperationError("storage.save_images", sessionID, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, logging.NewOperationError("storage.save_images", sessionID, err)
	}

	refs := make([]FileRef, 0, len(liveness)+1)
	for i, img := range liveness {
		name := fmt.Sprintf("liveness_%d.jpg", i+1)
		ref, err := writeFile(dir, name, img.Data)
		if err != nil {
			return nil, logging.NewOperationError("storage.save_images", sessionID, err)
		}
		refs = append(refs, ref)
	}
	ref, err := writeFile(dir, "selfie.jpg", selfie.Data)
	if err != nil {
		return nil, logging.NewOperationError("storage.save_images", sessionID, err)
	}
	refs = append(refs, ref)

	l.logger.Debug("session images saved", zap.String("session_id", sessionID), zap.Int("files", len(refs)))
	return refs, nil
}

func writeFile(dir, name string, data []byte) (FileRef, error) {
	if len(data) == 0 {
		return FileRef{}, fmt.Errorf("%s: empty image", name)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return FileRef{}, err
	}
	return FileRef{Name: name, Path: path}, nil
}

// PackageFiles zips refs into <session dir>/selfie.zip and returns its bytes.
func (l *Local) PackageFiles(sessionID string, refs []FileRef) (PackagedArtifact, error) {
	if len(refs) == 0 {
		return PackagedArtifact{}, logging.NewOperationError("storage.package_files", sessionID, errors.New("nothing to package"))
	}
	dir, err := l.SessionDir(sessionID)
	if err != nil {
		return PackagedArtifact{}, logging.NewOperationError("storage.package_files", sessionID, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, ref := range refs {
		if err := addToZip(zw, ref); err != nil {
			_ = zw.Close()
			return PackagedArtifact{}, logging.NewOperationError("storage.package_files", sessionID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return PackagedArtifact{}, logging.NewOperationError("storage.package_files", sessionID, err)
	}

	path := filepath.Join(dir, ArchiveName)
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return PackagedArtifact{}, logging.NewOperationError("storage.package_files", sessionID, err)
	}
	return PackagedArtifact{Path: path, Bytes: buf.Bytes()}, nil
}

func addToZip(zw *zip.Writer, ref FileRef) error {
	f, err := os.Open(ref.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(ref.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// Purge removes everything stored for a session.
func (l *Local) Purge(sessionID string) error {
	dir, err := l.SessionDir(sessionID)
	if err != nil {
		return logging.NewOperationError("storage.purge", sessionID, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return logging.NewOperationError("storage.purge", sessionID, err)
	}
	return nil
}
