package capture

import "testing"

func TestReporterKeepsFinalFrameAgainstLateGateUpdates(t *testing.T) {
	log := &snapshotLog{}
	r := NewReporter("session-1", 8, log, newManualClock())
	go r.Run()

	r.publishGate(GateState{Detection: StateFaceFound, Flags: ValidityFlags{Bounds: BoundsAppropriate, Roll: true, Yaw: true, Quality: true}})
	r.publishProgress(1, true)
	r.publishGate(GateState{Detection: StateFaceFound, Flags: ValidityFlags{Bounds: BoundsTooSmall}})
	r.publishStatus(StatusSubmitting, nil)
	r.Stop()

	latest := r.Latest()
	if latest.Detection != StateFinalFrame {
		t.Fatalf("expected final_frame to survive a late gate update, got %s", latest.Detection)
	}
	if latest.Flags.Bounds != BoundsTooSmall {
		t.Fatalf("expected flags to keep tracking the gate, got %s", latest.Flags.Bounds)
	}
	if latest.Status != StatusSubmitting || latest.Version != 4 {
		t.Fatalf("unexpected snapshot %+v", latest)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	for _, snap := range log.snaps[1:] {
		if snap.Detection != StateFinalFrame {
			t.Fatalf("snapshot %d left final_frame: %s", snap.Version, snap.Detection)
		}
	}
}
