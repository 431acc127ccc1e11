package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/example/selfie-capture/internal/capture"
)

// Script replays recorded detections, one per frame, repeating the last
// entry once exhausted.
type Script struct {
	mu      sync.Mutex
	entries []Detection
	next    int
}

// NewScript builds a script from detections.
func NewScript(entries []Detection) *Script {
	return &Script{entries: entries}
}

// LoadScript reads a JSON array of detections.
func LoadScript(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Detection
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse observation script %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, errors.New("observation script is empty")
	}
	return NewScript(entries), nil
}

// Len returns the number of scripted detections.
func (s *Script) Len() int { return len(s.entries) }

// Observe implements capture.FaceObserver.
func (s *Script) Observe(ctx context.Context, frame capture.Frame) ([]capture.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return []capture.Observation{capture.NoFace(frame.Seq)}, nil
	}
	i := s.next
	if i >= len(s.entries) {
		i = len(s.entries) - 1
	} else {
		s.next++
	}
	return s.entries[i].Observations(frame.Seq), nil
}
