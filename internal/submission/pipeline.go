// Package submission packages a completed capture and runs the
// authenticate, prepare-upload and upload chain against the verification
// service.
package submission

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/selfie-capture/internal/capture"
	"github.com/example/selfie-capture/internal/logging"
	"github.com/example/selfie-capture/internal/storage"
	"github.com/example/selfie-capture/internal/verifyapi"
)

// Storage persists and packages session images.
type Storage interface {
	SaveImages(liveness []capture.Image, selfie capture.Image, sessionID string) ([]storage.FileRef, error)
	PackageFiles(sessionID string, refs []storage.FileRef) (storage.PackagedArtifact, error)
	Purge(sessionID string) error
}

// API is the verification service.
type API interface {
	Authenticate(ctx context.Context, req verifyapi.AuthenticationRequest) (*verifyapi.AuthenticationResponse, error)
	PrepUpload(ctx context.Context, req verifyapi.PrepUploadRequest) (*verifyapi.PrepUploadResponse, error)
	Upload(ctx context.Context, zip []byte, uploadURL string) (*verifyapi.UploadResponse, error)
}

// Options tune the pipeline.
type Options struct {
	// KeepArtifacts leaves the session directory on disk after submission.
	KeepArtifacts bool
	CallbackURL   string
}

// Pipeline implements capture.Submitter.
type Pipeline struct {
	storage Storage
	api     API
	opts    Options
	logger  *zap.Logger
}

// NewPipeline builds a submission pipeline.
func NewPipeline(store Storage, api API, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		storage: store,
		api:     api,
		opts:    opts,
		logger:  logger.Named("submission"),
	}
}

// Submit persists the images, packages them and uploads the package. The
// network steps run strictly in order and the first failure ends the chain.
func (p *Pipeline) Submit(ctx context.Context, req capture.SubmissionRequest) capture.Outcome {
	sessionID := req.Session.ID
	opLogger := logging.WithOperation(p.logger, "submission.submit", sessionID)
	if !p.opts.KeepArtifacts {
		defer p.purge(opLogger, sessionID)
	}

	artifact, err := p.pack(req)
	if err != nil {
		opLogger.Error("packaging failed", zap.Error(err))
		return capture.Outcome{Err: err}
	}

	if err := p.upload(ctx, req.Session, artifact.Bytes); err != nil {
		opLogger.Error("submission failed", zap.Error(err), zap.String("kind", capture.KindOf(err).String()))
		return capture.Outcome{Err: err}
	}

	liveness := make([][]byte, len(req.Liveness))
	for i, img := range req.Liveness {
		liveness[i] = img.Data
	}
	opLogger.Info("submission succeeded", zap.Int("package_bytes", len(artifact.Bytes)))
	return capture.Outcome{Selfie: req.Selfie.Data, Liveness: liveness}
}

func (p *Pipeline) pack(req capture.SubmissionRequest) (storage.PackagedArtifact, error) {
	refs, err := p.storage.SaveImages(req.Liveness, req.Selfie, req.Session.ID)
	if err != nil {
		return storage.PackagedArtifact{}, capture.NewError(capture.KindStorage, "save_images", err)
	}
	artifact, err := p.storage.PackageFiles(req.Session.ID, refs)
	if err != nil {
		return storage.PackagedArtifact{}, capture.NewError(capture.KindStorage, "package_files", err)
	}
	return artifact, nil
}

func (p *Pipeline) upload(ctx context.Context, session capture.Session, zip []byte) error {
	auth, err := p.api.Authenticate(ctx, verifyapi.AuthenticationRequest{
		JobType:    verifyapi.JobTypeFor(session.IsEnroll),
		Enrollment: session.IsEnroll,
		UserID:     session.UserID,
	})
	if err != nil {
		return stepError(session.ID, "authenticate", err)
	}

	prep, err := p.api.PrepUpload(ctx, verifyapi.PrepUploadRequest{
		PartnerParams: auth.PartnerParams,
		Timestamp:     auth.Timestamp,
		Signature:     auth.Signature,
		FileName:      storage.ArchiveName,
		CallbackURL:   p.opts.CallbackURL,
	})
	if err != nil {
		return stepError(session.ID, "prep_upload", err)
	}

	resp, err := p.api.Upload(ctx, zip, prep.UploadURL)
	if err != nil {
		return stepError(session.ID, "upload", err)
	}
	if resp.Kind != verifyapi.UploadCompleted {
		return capture.NewError(capture.KindServerRejected, "upload",
			fmt.Errorf("upload finished with %s (status %d)", resp.Kind, resp.StatusCode))
	}
	return nil
}

func stepError(sessionID, step string, err error) error {
	kind := capture.KindTransport
	if verifyapi.IsServerError(err) {
		kind = capture.KindServerRejected
	}
	return capture.NewError(kind, step, logging.NewOperationError("submission."+step, sessionID, err))
}

func (p *Pipeline) purge(logger *zap.Logger, sessionID string) {
	if err := p.storage.Purge(sessionID); err != nil {
		logger.Warn("failed to purge session files", zap.Error(err))
	}
}
