// Package store journals the rig's telemetry in SQLite: one row per decoded
// frame, one row per non-reading bus event, grouped into runs. The journal
// feeds the stats API, the offline report generator and the live SQL
// debugger; losing a row is logged but never stalls the measurement
// pipeline.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
)

// Store wraps the journal database. The embedded *sql.DB is safe for
// concurrent use; the store only adds tracking of the current run.
type Store struct {
	*sql.DB
	path string

	runMu sync.Mutex
	run   *Run
}

// Open opens (creating if needed) the journal database at path and applies
// the connection pragmas. The schema is not touched; run MigrateUp or use
// OpenAndMigrate for that.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &Store{DB: db, path: path}, nil
}

// OpenAndMigrate opens the journal database and brings its schema up to the
// latest embedded migration version.
func OpenAndMigrate(path string) (*Store, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}

	fsys, err := getMigrationsFS()
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := s.MigrateUp(fsys); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Run is one journalled experiment attempt. A new run starts when the
// daemon boots and on every global reset.
type Run struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Device    string    `json:"device"`
	Source    string    `json:"source"`
}

// StartRun opens a new run with a fresh UUID and makes it the current run
// for subsequent frame and event rows.
func (s *Store) StartRun(now time.Time, device, source string) (Run, error) {
	run := Run{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Device:    device,
		Source:    source,
	}

	_, err := s.Exec(
		`INSERT INTO runs (run_id, started_at, device, source) VALUES (?, ?, ?, ?)`,
		run.RunID, run.StartedAt.UnixMilli(), run.Device, run.Source,
	)
	if err != nil {
		return Run{}, fmt.Errorf("failed to start run: %w", err)
	}

	s.runMu.Lock()
	s.run = &run
	s.runMu.Unlock()
	return run, nil
}

// CurrentRun returns the run opened by the last StartRun, if any.
func (s *Store) CurrentRun() (Run, bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.run == nil {
		return Run{}, false
	}
	return *s.run, true
}

func (s *Store) currentRunID() (string, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.run == nil {
		return "", fmt.Errorf("no active run")
	}
	return s.run.RunID, nil
}

// Runs lists all journalled runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.Query(`SELECT run_id, started_at, device, source FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedMs int64
		if err := rows.Scan(&run.RunID, &startedMs, &run.Device, &run.Source); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedMs)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// RecordFrame journals one decoded telemetry frame under the current run.
func (s *Store) RecordFrame(recvTime time.Time, device string, f telemetry.Frame) error {
	runID, err := s.currentRunID()
	if err != nil {
		return err
	}

	_, err = s.Exec(
		`INSERT INTO frames (
			run_id, recv_time, device, ts_device, min_direction, min_distance,
			d0, d1, d2, d3, d4, d5, d6, d7
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, recvTime.UnixMilli(), device,
		int64(f.Timestamp), int(f.MinDirection), int(f.MinDistance),
		int(f.Distances[0]), int(f.Distances[1]), int(f.Distances[2]), int(f.Distances[3]),
		int(f.Distances[4]), int(f.Distances[5]), int(f.Distances[6]), int(f.Distances[7]),
	)
	if err != nil {
		return fmt.Errorf("failed to record frame: %w", err)
	}
	return nil
}

// RecordEvent journals one bus event under the current run.
func (s *Store) RecordEvent(e events.Event) error {
	runID, err := s.currentRunID()
	if err != nil {
		return err
	}

	_, err = s.Exec(
		`INSERT INTO events (run_id, time, kind, channel, distance_mm, status, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Time.UnixMilli(), string(e.Kind), e.Channel, e.DistanceMm, e.Status, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// FrameRow is one journalled frame with its receive metadata.
type FrameRow struct {
	RunID        string    `json:"run_id"`
	RecvTime     time.Time `json:"recv_time"`
	Device       string    `json:"device"`
	TsDevice     uint32    `json:"ts_device"`
	MinDirection int       `json:"min_direction"`
	MinDistance  int       `json:"min_distance"`
	Distances    [8]int    `json:"distances"`
}

// FramesForRun returns every frame journalled under runID in arrival order.
func (s *Store) FramesForRun(runID string) ([]FrameRow, error) {
	rows, err := s.Query(
		`SELECT run_id, recv_time, device, ts_device, min_direction, min_distance,
			d0, d1, d2, d3, d4, d5, d6, d7
		 FROM frames WHERE run_id = ? ORDER BY recv_time ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var frames []FrameRow
	for rows.Next() {
		var fr FrameRow
		var recvMs, tsDevice int64
		if err := rows.Scan(
			&fr.RunID, &recvMs, &fr.Device, &tsDevice, &fr.MinDirection, &fr.MinDistance,
			&fr.Distances[0], &fr.Distances[1], &fr.Distances[2], &fr.Distances[3],
			&fr.Distances[4], &fr.Distances[5], &fr.Distances[6], &fr.Distances[7],
		); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		fr.RecvTime = time.UnixMilli(recvMs)
		fr.TsDevice = uint32(tsDevice)
		frames = append(frames, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating frames: %w", err)
	}
	return frames, nil
}

// EventRow is one journalled bus event.
type EventRow struct {
	RunID      string    `json:"run_id"`
	Time       time.Time `json:"time"`
	Kind       string    `json:"kind"`
	Channel    int       `json:"channel"`
	DistanceMm int       `json:"distance_mm"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail"`
}

// EventsForRun returns every event journalled under runID in time order.
func (s *Store) EventsForRun(runID string) ([]EventRow, error) {
	rows, err := s.Query(
		`SELECT run_id, time, kind, channel, distance_mm, status, detail
		 FROM events WHERE run_id = ? ORDER BY time ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var evs []EventRow
	for rows.Next() {
		var ev EventRow
		var timeMs int64
		if err := rows.Scan(&ev.RunID, &timeMs, &ev.Kind, &ev.Channel, &ev.DistanceMm, &ev.Status, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Time = time.UnixMilli(timeMs)
		evs = append(evs, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return evs, nil
}

// FrameCount returns the number of frames journalled under the current run,
// or zero when no run is active.
func (s *Store) FrameCount() (int, error) {
	runID, err := s.currentRunID()
	if err != nil {
		return 0, nil
	}

	var count int
	if err := s.QueryRow(`SELECT COUNT(*) FROM frames WHERE run_id = ?`, runID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return count, nil
}
