// Package telemetry persists tuning sessions, measurement samples and
// controller output to sqlite for later inspection and charting.
package telemetry

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/autotune/internal/autotune"
	"github.com/banshee-data/autotune/internal/monitoring"
)

// Store wraps the sqlite database.
type Store struct {
	*sql.DB
	path string
}

// NewStore opens (creating if needed) the telemetry database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tuning (
			session_id TEXT,
			progress DOUBLE,
			state INT,
			elapsed_seconds DOUBLE,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS samples (
			session_id TEXT,
			value DOUBLE,
			output DOUBLE,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS results (
			session_id TEXT PRIMARY KEY,
			state INT,
			ku DOUBLE,
			pu_seconds DOUBLE,
			amplitude DOUBLE,
			peaks INT,
			cycles INT,
			elapsed_seconds DOUBLE,
			gains TEXT,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS control (
			controller TEXT,
			measured DOUBLE,
			output DOUBLE,
			p DOUBLE,
			i DOUBLE,
			d DOUBLE,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, err
	}

	return &Store{DB: db, path: path}, nil
}

// RecordTuning appends one tuning progress point. It satisfies the
// runner's Telemetry interface.
func (s *Store) RecordTuning(sessionID string, progress float64, state int, elapsedSeconds float64) error {
	_, err := s.Exec("INSERT INTO tuning (session_id, progress, state, elapsed_seconds) VALUES (?, ?, ?, ?)",
		sessionID, progress, state, elapsedSeconds)
	return err
}

// RecordSample appends one measurement/output pair for a session.
func (s *Store) RecordSample(sessionID string, value, output float64) error {
	_, err := s.Exec("INSERT INTO samples (session_id, value, output) VALUES (?, ?, ?)",
		sessionID, value, output)
	return err
}

// RecordControl appends one steady-state controller point. It satisfies
// the control package's Recorder interface.
func (s *Store) RecordControl(controller string, measured, output, p, i, d float64) error {
	_, err := s.Exec("INSERT INTO control (controller, measured, output, p, i, d) VALUES (?, ?, ?, ?, ?, ?)",
		controller, measured, output, p, i, d)
	return err
}

// RecordResult upserts the terminal result of a tuning session. Gains are
// stored as a JSON object keyed by rule name.
func (s *Store) RecordResult(res autotune.Result) error {
	gains, err := json.Marshal(res.Gains)
	if err != nil {
		return fmt.Errorf("encode gains: %w", err)
	}
	_, err = s.Exec(`INSERT INTO results
		(session_id, state, ku, pu_seconds, amplitude, peaks, cycles, elapsed_seconds, gains)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state=excluded.state, ku=excluded.ku, pu_seconds=excluded.pu_seconds,
			amplitude=excluded.amplitude, peaks=excluded.peaks, cycles=excluded.cycles,
			elapsed_seconds=excluded.elapsed_seconds, gains=excluded.gains`,
		res.ID, int(res.State), res.Ku, res.Pu.Seconds(), res.Amplitude,
		res.Peaks, res.Cycles, res.Elapsed.Seconds(), string(gains))
	return err
}

// TuningPoint is one row of the tuning progress series.
type TuningPoint struct {
	Progress       float64
	State          int
	ElapsedSeconds float64
}

// TuningPoints returns the progress series for a session, oldest first.
func (s *Store) TuningPoints(sessionID string) ([]TuningPoint, error) {
	rows, err := s.Query(
		"SELECT progress, state, elapsed_seconds FROM tuning WHERE session_id = ? ORDER BY elapsed_seconds ASC",
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []TuningPoint
	for rows.Next() {
		var p TuningPoint
		if err := rows.Scan(&p.Progress, &p.State, &p.ElapsedSeconds); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// SessionResult is one stored tuning outcome.
type SessionResult struct {
	SessionID      string
	State          int
	Ku             float64
	PuSeconds      float64
	Amplitude      float64
	Peaks          int
	Cycles         int
	ElapsedSeconds float64
	Gains          map[string]autotune.Gains
}

// Results returns the most recent stored session results, newest first.
func (s *Store) Results(limit int) ([]SessionResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Query(`SELECT session_id, state, ku, pu_seconds, amplitude, peaks, cycles, elapsed_seconds, gains
		FROM results ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SessionResult
	for rows.Next() {
		var r SessionResult
		var gains string
		if err := rows.Scan(&r.SessionID, &r.State, &r.Ku, &r.PuSeconds, &r.Amplitude,
			&r.Peaks, &r.Cycles, &r.ElapsedSeconds, &gains); err != nil {
			return nil, err
		}
		if gains != "" && gains != "null" {
			if err := json.Unmarshal([]byte(gains), &r.Gains); err != nil {
				return nil, fmt.Errorf("decode gains for %s: %w", r.SessionID, err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// AttachAdminRoutes mounts the live SQL debugger and a backup endpoint on
// the mux under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Autotune telemetry",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := s.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("telemetry: failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			monitoring.Logf("telemetry: backup download failed: %v", err)
		}
	}))
	return nil
}
