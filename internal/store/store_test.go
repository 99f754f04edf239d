package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := OpenAndMigrate(path)
	if err != nil {
		t.Fatalf("OpenAndMigrate failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testFrame(ts uint32) telemetry.Frame {
	return telemetry.Frame{
		Timestamp:    ts,
		MinDirection: 0,
		MinDistance:  420,
		Distances:    [8]uint16{420, 2000, 0, 900, 1000, 1100, 1200, 1300},
	}
}

func TestPragmasApplied(t *testing.T) {
	st := newTestStore(t)

	var journalMode string
	if err := st.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := st.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var synchronous int
	if err := st.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("Failed to query synchronous: %v", err)
	}
	if synchronous != 1 { // 1 = NORMAL
		t.Errorf("Expected synchronous=1 (NORMAL), got %d", synchronous)
	}
}

func TestStartRunTracksCurrent(t *testing.T) {
	st := newTestStore(t)

	if _, ok := st.CurrentRun(); ok {
		t.Fatal("fresh store reports an active run")
	}

	now := time.UnixMilli(1700000000000)
	run, err := st.StartRun(now, "serial:/dev/ttyUSB0", "hardware")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.RunID == "" {
		t.Fatal("StartRun issued an empty run id")
	}
	if !run.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, now)
	}

	current, ok := st.CurrentRun()
	if !ok {
		t.Fatal("CurrentRun reports no run after StartRun")
	}
	if current.RunID != run.RunID {
		t.Errorf("CurrentRun id = %s, want %s", current.RunID, run.RunID)
	}

	// A second run supersedes the first.
	run2, err := st.StartRun(now.Add(time.Minute), "serial:/dev/ttyUSB0", "hardware")
	if err != nil {
		t.Fatalf("second StartRun failed: %v", err)
	}
	if run2.RunID == run.RunID {
		t.Error("second run reused the first run's id")
	}
	current, _ = st.CurrentRun()
	if current.RunID != run2.RunID {
		t.Errorf("CurrentRun id = %s, want %s", current.RunID, run2.RunID)
	}

	runs, err := st.Runs()
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	// Newest first.
	if runs[0].RunID != run2.RunID {
		t.Errorf("runs[0] = %s, want newest run %s", runs[0].RunID, run2.RunID)
	}
}

func TestRecordFrameRequiresRun(t *testing.T) {
	st := newTestStore(t)

	err := st.RecordFrame(time.Now(), "serial:/dev/ttyUSB0", testFrame(1000))
	if err == nil {
		t.Fatal("RecordFrame without a run succeeded")
	}

	var count int
	if err := st.QueryRow("SELECT COUNT(*) FROM frames").Scan(&count); err != nil {
		t.Fatalf("Failed to count frames: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 frames, got %d", count)
	}
}

func TestRecordFrameRoundTrip(t *testing.T) {
	st := newTestStore(t)

	now := time.UnixMilli(1700000000000)
	run, err := st.StartRun(now, "serial:/dev/ttyUSB0", "hardware")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	recv := now.Add(300 * time.Millisecond)
	if err := st.RecordFrame(recv, "serial:/dev/ttyUSB0", testFrame(4242)); err != nil {
		t.Fatalf("RecordFrame failed: %v", err)
	}
	if err := st.RecordFrame(recv.Add(300*time.Millisecond), "serial:/dev/ttyUSB0", testFrame(4542)); err != nil {
		t.Fatalf("RecordFrame failed: %v", err)
	}

	frames, err := st.FramesForRun(run.RunID)
	if err != nil {
		t.Fatalf("FramesForRun failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}

	fr := frames[0]
	if fr.RunID != run.RunID {
		t.Errorf("frame run id = %s, want %s", fr.RunID, run.RunID)
	}
	if !fr.RecvTime.Equal(recv) {
		t.Errorf("recv time = %v, want %v", fr.RecvTime, recv)
	}
	if fr.TsDevice != 4242 {
		t.Errorf("device timestamp = %d, want 4242", fr.TsDevice)
	}
	if fr.MinDirection != 0 || fr.MinDistance != 420 {
		t.Errorf("min = %d@%dmm, want 0@420mm", fr.MinDirection, fr.MinDistance)
	}
	want := [8]int{420, 2000, 0, 900, 1000, 1100, 1200, 1300}
	if fr.Distances != want {
		t.Errorf("distances = %v, want %v", fr.Distances, want)
	}

	if frames[1].TsDevice != 4542 {
		t.Errorf("second frame ts = %d, want 4542", frames[1].TsDevice)
	}

	count, err := st.FrameCount()
	if err != nil {
		t.Fatalf("FrameCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("FrameCount = %d, want 2", count)
	}
}

func TestRecordEventRoundTrip(t *testing.T) {
	st := newTestStore(t)

	now := time.UnixMilli(1700000000000)
	run, err := st.StartRun(now, "serial:/dev/ttyUSB0", "hardware")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	locked := events.Event{
		Kind:       events.KindChannelLocked,
		Time:       now.Add(2 * time.Second),
		Channel:    3,
		DistanceMm: 512,
	}
	if err := st.RecordEvent(locked); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	timeout := events.Event{
		Kind:       events.KindCollectionTimeout,
		Time:       now.Add(8 * time.Second),
		Channel:    3,
		DistanceMm: 0,
		Status:     "warning",
		Detail:     "collected 2 of 3 samples",
	}
	if err := st.RecordEvent(timeout); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	evs, err := st.EventsForRun(run.RunID)
	if err != nil {
		t.Fatalf("EventsForRun failed: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}

	if evs[0].Kind != string(events.KindChannelLocked) {
		t.Errorf("first event kind = %s, want %s", evs[0].Kind, events.KindChannelLocked)
	}
	if evs[0].Channel != 3 || evs[0].DistanceMm != 512 {
		t.Errorf("first event = ch%d %dmm, want ch3 512mm", evs[0].Channel, evs[0].DistanceMm)
	}
	if !evs[0].Time.Equal(locked.Time) {
		t.Errorf("event time = %v, want %v", evs[0].Time, locked.Time)
	}

	if evs[1].Status != "warning" || evs[1].Detail != "collected 2 of 3 samples" {
		t.Errorf("second event status/detail = %q/%q", evs[1].Status, evs[1].Detail)
	}
}

func TestRunsSeparateJournals(t *testing.T) {
	st := newTestStore(t)

	now := time.UnixMilli(1700000000000)
	run1, err := st.StartRun(now, "serial:/dev/ttyUSB0", "hardware")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := st.RecordFrame(now.Add(time.Second), "serial:/dev/ttyUSB0", testFrame(1000)); err != nil {
		t.Fatalf("RecordFrame failed: %v", err)
	}

	run2, err := st.StartRun(now.Add(time.Minute), "serial:/dev/ttyUSB0", "hardware")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := st.RecordFrame(now.Add(61*time.Second), "serial:/dev/ttyUSB0", testFrame(2000)); err != nil {
		t.Fatalf("RecordFrame failed: %v", err)
	}
	if err := st.RecordFrame(now.Add(62*time.Second), "serial:/dev/ttyUSB0", testFrame(2300)); err != nil {
		t.Fatalf("RecordFrame failed: %v", err)
	}

	frames1, err := st.FramesForRun(run1.RunID)
	if err != nil {
		t.Fatalf("FramesForRun failed: %v", err)
	}
	frames2, err := st.FramesForRun(run2.RunID)
	if err != nil {
		t.Fatalf("FramesForRun failed: %v", err)
	}
	if len(frames1) != 1 || len(frames2) != 2 {
		t.Errorf("got %d/%d frames, want 1/2", len(frames1), len(frames2))
	}
}
