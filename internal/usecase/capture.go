package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/selfie-capture/internal/capture"
	"github.com/example/selfie-capture/internal/imaging"
	"github.com/example/selfie-capture/internal/logging"
	"github.com/example/selfie-capture/internal/repository"
)

var (
	// ErrSessionNotFound is returned for unknown sessions or sessions owned by
	// another user.
	ErrSessionNotFound = errors.New("capture session not found")
	// ErrInvalidFrame is returned when an uploaded frame cannot be decoded.
	ErrInvalidFrame = errors.New("invalid frame")
)

// SessionRepository defines the persistence operations needed by the use case.
type SessionRepository interface {
	CreateSession(ctx context.Context, record *repository.CaptureSessionRecord) error
	CompleteSession(ctx context.Context, sessionID, status string, livenessCount int, errorKind, errorMessage string, completedAt time.Time) error
	FindBySessionAndUser(ctx context.Context, sessionID, userID string) (*repository.CaptureSessionRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Options tune the use case.
type Options struct {
	Engine         capture.Config
	SessionTimeout time.Duration
	SnapshotTTL    time.Duration
}

// CaptureUseCase runs capture sessions on behalf of authenticated users.
type CaptureUseCase struct {
	repo      SessionRepository
	cache     Cache
	observer  capture.FaceObserver
	extractor capture.Extractor
	submitter capture.Submitter
	opts      Options
	logger    *zap.Logger

	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu      sync.Mutex
	engines map[string]*capture.Engine
	wg      sync.WaitGroup
}

type cachedSnapshot struct {
	UserID   string           `json:"user_id"`
	Snapshot capture.Snapshot `json:"snapshot"`
}

// NewCaptureUseCase constructs a new use case instance.
func NewCaptureUseCase(repo SessionRepository, cache Cache, observer capture.FaceObserver, extractor capture.Extractor, submitter capture.Submitter, opts Options, logger *zap.Logger) *CaptureUseCase {
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 2 * time.Minute
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 10 * time.Minute
	}
	return &CaptureUseCase{
		repo:           repo,
		cache:          cache,
		observer:       observer,
		extractor:      extractor,
		submitter:      submitter,
		opts:           opts,
		logger:         logger.Named("capture_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		engines:        make(map[string]*capture.Engine),
	}
}

// StartSession creates a session and starts its engine.
func (uc *CaptureUseCase) StartSession(ctx context.Context, userID string, isEnroll bool) (string, error) {
	session := capture.Session{ID: uuid.NewString(), UserID: userID, IsEnroll: isEnroll}
	opLogger := logging.WithOperation(uc.logger, "usecase.start_session", session.ID)

	record := &repository.CaptureSessionRecord{
		SessionID: session.ID,
		UserID:    userID,
		IsEnroll:  isEnroll,
		Status:    repository.StatusCapturing,
		CreatedAt: time.Now().UTC(),
	}
	if err := uc.repo.CreateSession(ctx, record); err != nil {
		opLogger.Error("failed to persist session", zap.Error(err))
		return "", err
	}

	engine := capture.NewEngine(session, uc.opts.Engine, capture.Deps{
		Observer:  uc.observer,
		Extractor: uc.extractor,
		Submitter: uc.submitter,
		Delegate:  uc,
		Snapshots: &snapshotWriter{uc: uc, userID: userID},
		Logger:    uc.logger,
	})

	uc.mu.Lock()
	uc.engines[session.ID] = engine
	uc.mu.Unlock()

	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), uc.opts.SessionTimeout)
		defer cancel()
		_ = engine.Run(runCtx)

		uc.mu.Lock()
		delete(uc.engines, session.ID)
		uc.mu.Unlock()
	}()

	opLogger.Info("capture session started", zap.String("user_id", userID), zap.Bool("enroll", isEnroll))
	return session.ID, nil
}

// PushFrame decodes a JPEG or PNG frame and offers it to the session. It
// returns false when the frame was dropped.
func (uc *CaptureUseCase) PushFrame(ctx context.Context, userID, sessionID string, data []byte) (bool, error) {
	engine, ok := uc.engine(userID, sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return engine.PushFrame(capture.Frame{Image: img}), nil
}

// GetSnapshot returns the live state of a session, falling back to the cache
// and then to the persisted record.
func (uc *CaptureUseCase) GetSnapshot(ctx context.Context, userID, sessionID string) (*capture.Snapshot, error) {
	if engine, ok := uc.engine(userID, sessionID); ok {
		snap := engine.Snapshot()
		return &snap, nil
	}

	opLogger := logging.WithOperation(uc.logger, "usecase.get_snapshot", sessionID)
	if cached, err := uc.withRedisGet(ctx, sessionID, "cache.get.snapshot", snapshotKey(sessionID)); err == nil {
		var payload cachedSnapshot
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached snapshot", zap.Error(err))
		} else if payload.UserID == userID {
			return &payload.Snapshot, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.repo.FindBySessionAndUser(ctx, sessionID, userID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return snapshotFromRecord(record), nil
}

// CancelSession tears down a running session. A session that already
// delivered its outcome keeps it; otherwise the record is marked cancelled.
func (uc *CaptureUseCase) CancelSession(ctx context.Context, userID, sessionID string) error {
	engine, ok := uc.engine(userID, sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	delivered := engine.Close()
	<-engine.Done()

	opLogger := logging.WithOperation(uc.logger, "usecase.cancel_session", sessionID)
	if delivered {
		opLogger.Info("cancel ignored, session already finished")
		return nil
	}

	now := time.Now().UTC()
	err := uc.repo.CompleteSession(ctx, sessionID, repository.StatusCancelled, 0,
		capture.KindCancelled.String(), "cancelled by client", now)
	if errors.Is(err, repository.ErrSessionCompleted) {
		opLogger.Info("cancel ignored, session already recorded as finished")
		return nil
	}
	if err != nil {
		return err
	}

	snap := engine.Snapshot()
	snap.Status = capture.StatusCancelled
	snap.ErrorKind = capture.KindCancelled.String()
	snap.UpdatedAt = now
	(&snapshotWriter{uc: uc, userID: userID}).OnSnapshot(snap)
	return nil
}

// Shutdown closes all running sessions and waits for their engines.
func (uc *CaptureUseCase) Shutdown(ctx context.Context) error {
	uc.mu.Lock()
	for _, engine := range uc.engines {
		engine.Close()
	}
	uc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSuccess implements capture.ResultDelegate.
func (uc *CaptureUseCase) OnSuccess(session capture.Session, selfie []byte, liveness [][]byte) {
	uc.complete(session, repository.StatusSucceeded, len(liveness), nil)
}

// OnError implements capture.ResultDelegate.
func (uc *CaptureUseCase) OnError(session capture.Session, err error) {
	status := repository.StatusFailed
	if capture.KindOf(err) == capture.KindCancelled {
		status = repository.StatusCancelled
	}
	uc.complete(session, status, 0, err)
}

func (uc *CaptureUseCase) complete(session capture.Session, status string, livenessCount int, outcomeErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var kind, message string
	if outcomeErr != nil {
		kind = capture.KindOf(outcomeErr).String()
		message = outcomeErr.Error()
	}
	if err := uc.repo.CompleteSession(ctx, session.ID, status, livenessCount, kind, message, time.Now().UTC()); err != nil {
		logging.WithOperation(uc.logger, "usecase.complete_session", session.ID).
			Error("failed to record session outcome", zap.Error(err), zap.String("status", status))
	}
}

func (uc *CaptureUseCase) engine(userID, sessionID string) (*capture.Engine, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	engine, ok := uc.engines[sessionID]
	if !ok || engine.Session().UserID != userID {
		return nil, false
	}
	return engine, true
}

func (uc *CaptureUseCase) activeSessions() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return len(uc.engines)
}

// snapshotWriter mirrors snapshots into the cache so they survive the engine.
type snapshotWriter struct {
	uc     *CaptureUseCase
	userID string
}

func (w *snapshotWriter) OnSnapshot(snap capture.Snapshot) {
	uc := w.uc
	serialized, err := json.Marshal(cachedSnapshot{UserID: w.userID, Snapshot: snap})
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_snapshot", snap.SessionID).Error("failed to serialize snapshot", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := uc.withRedisRetry(ctx, snap.SessionID, "cache.set.snapshot", func() error {
		return uc.cache.Set(ctx, snapshotKey(snap.SessionID), string(serialized), uc.opts.SnapshotTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_snapshot", snap.SessionID).Warn("failed to cache snapshot", zap.Error(err))
	}
}

func snapshotFromRecord(record *repository.CaptureSessionRecord) *capture.Snapshot {
	snap := &capture.Snapshot{
		SessionID: record.SessionID,
		Status:    record.Status,
		ErrorKind: record.ErrorKind,
		Error:     record.ErrorMessage,
		UpdatedAt: record.CreatedAt,
	}
	if record.CompletedAt != nil {
		snap.UpdatedAt = *record.CompletedAt
	}
	if record.Status == repository.StatusSucceeded {
		snap.Progress = 1
	}
	return snap
}

func (uc *CaptureUseCase) withRedisRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, sessionID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func (uc *CaptureUseCase) withRedisGet(ctx context.Context, sessionID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, sessionID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
