package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/selfie-capture/internal/capture"
	"github.com/example/selfie-capture/internal/imaging"
	"github.com/example/selfie-capture/internal/observer"
	"github.com/example/selfie-capture/internal/storage"
	"github.com/example/selfie-capture/internal/submission"
	"github.com/example/selfie-capture/internal/verifyapi"
)

type replayOptions struct {
	framesDir     string
	observations  string
	userID        string
	enroll        bool
	dryRun        bool
	frameInterval time.Duration
	timeout       time.Duration
}

var replayOpts replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Drive a capture session from recorded frames and scripted observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayOpts.framesDir == "" || replayOpts.observations == "" {
			return errors.New("--frames and --observations are required")
		}
		if !replayOpts.dryRun {
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		return runReplay(cmd.Context(), replayOpts)
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayOpts.framesDir, "frames", "", "directory of JPEG/PNG frames, replayed in name order")
	f.StringVar(&replayOpts.observations, "observations", "", "JSON file with one detection per frame")
	f.StringVar(&replayOpts.userID, "user", "replay", "user id the session belongs to")
	f.BoolVar(&replayOpts.enroll, "enroll", false, "run an enrollment instead of an authentication")
	f.BoolVar(&replayOpts.dryRun, "dry-run", false, "package the capture under STORAGE_ROOT without uploading")
	f.DurationVar(&replayOpts.frameInterval, "frame-interval", 33*time.Millisecond, "delay between frames")
	f.DurationVar(&replayOpts.timeout, "timeout", time.Minute, "give up after this long")
}

func runReplay(ctx context.Context, opts replayOptions) error {
	frames, err := loadFrames(opts.framesDir)
	if err != nil {
		return err
	}
	script, err := observer.LoadScript(opts.observations)
	if err != nil {
		return err
	}

	store := storage.NewLocal(cfg.StorageRoot, logger)
	var submitter capture.Submitter
	if opts.dryRun {
		submitter = &packageOnly{store: store}
	} else {
		api := verifyapi.NewClient(cfg.VerifyBaseURL(), cfg.Partner.PartnerID, cfg.Partner.AuthToken,
			&http.Client{Timeout: 60 * time.Second}, logger)
		submitter = submission.NewPipeline(store, api, submission.Options{
			KeepArtifacts: cfg.KeepArtifacts,
			CallbackURL:   cfg.CallbackURL,
		}, logger)
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("capturing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	result := &replayResult{}
	session := capture.Session{ID: uuid.NewString(), UserID: opts.userID, IsEnroll: opts.enroll}
	engine := capture.NewEngine(session, cfg.Engine(), capture.Deps{
		Observer:  script,
		Extractor: imaging.NewExtractor(),
		Submitter: submitter,
		Delegate:  result,
		Snapshots: capture.SnapshotObserverFunc(func(s capture.Snapshot) {
			_ = bar.Set(int(s.Progress * 100))
			if s.Status == capture.StatusSubmitting {
				bar.Describe("submitting")
			}
		}),
		Logger: logger,
	})

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	go feedFrames(runCtx, engine, frames, opts.frameInterval)
	runErr := engine.Run(runCtx)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	logger.Info("replay finished",
		zap.String("session_id", session.ID),
		zap.Int("frames", len(frames)),
		zap.Int("scripted_detections", script.Len()),
		zap.Uint64("dropped_frames", engine.Dropped()),
	)
	if runErr != nil {
		return fmt.Errorf("capture session %s failed (%s): %w", session.ID, capture.KindOf(runErr), runErr)
	}

	selfie, liveness := result.images()
	fmt.Printf("session %s succeeded: %d liveness images, selfie %d bytes\n", session.ID, len(liveness), len(selfie))
	return nil
}

// feedFrames pushes frames in order, cycling until the engine stops.
func feedFrames(ctx context.Context, engine *capture.Engine, frames []image.Image, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-engine.Done():
			return
		case <-ticker.C:
			engine.PushFrame(capture.Frame{Image: frames[i%len(frames)]})
		}
	}
}

func loadFrames(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frames in %s", dir)
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		img, err := imaging.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// packageOnly stores and zips the capture without contacting the service.
type packageOnly struct {
	store *storage.Local
}

func (p *packageOnly) Submit(ctx context.Context, req capture.SubmissionRequest) capture.Outcome {
	refs, err := p.store.SaveImages(req.Liveness, req.Selfie, req.Session.ID)
	if err != nil {
		return capture.Outcome{Err: capture.NewError(capture.KindStorage, "save_images", err)}
	}
	artifact, err := p.store.PackageFiles(req.Session.ID, refs)
	if err != nil {
		return capture.Outcome{Err: capture.NewError(capture.KindStorage, "package_files", err)}
	}
	logger.Info("capture packaged", zap.String("path", artifact.Path), zap.Int("bytes", len(artifact.Bytes)))

	liveness := make([][]byte, len(req.Liveness))
	for i, img := range req.Liveness {
		liveness[i] = img.Data
	}
	return capture.Outcome{Selfie: req.Selfie.Data, Liveness: liveness}
}

type replayResult struct {
	mu       sync.Mutex
	selfie   []byte
	liveness [][]byte
}

func (r *replayResult) OnSuccess(session capture.Session, selfie []byte, liveness [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selfie = selfie
	r.liveness = liveness
}

func (r *replayResult) OnError(session capture.Session, err error) {}

func (r *replayResult) images() ([]byte, [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selfie, r.liveness
}
