// Package db stores planner sessions and per-cycle decisions in SQLite so
// runs can be inspected after the fact.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/velocity.planner/internal/decision"
	"github.com/banshee-data/velocity.planner/internal/monitoring"
	"github.com/banshee-data/velocity.planner/internal/planner"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	*sql.DB
}

// SessionRecord is one stored planner session.
type SessionRecord struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	InitialLane int       `json:"initial_lane"`
	StartedAt   time.Time `json:"started_at"`
	Cycles      int64     `json:"cycles"`
}

// OpenDB opens the database and applies connection pragmas without touching
// the schema. The migrate subcommand uses it to manage the schema itself.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// RecordSession stores a new session.
func (db *DB) RecordSession(s *planner.Session, remote string) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, remote_addr, initial_lane, started_at) VALUES (?, ?, ?, ?)`,
		s.ID, remote, s.Lane, s.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", s.ID, err)
	}
	return nil
}

// RecordCycle stores one cycle report. Path points are not stored.
func (db *DB) RecordCycle(r planner.CycleReport) error {
	_, err := db.Exec(
		`INSERT INTO plan_cycles (
			session_id, cycle, at_unix_nanos, x, y, s, d, speed, prev_lane, lane,
			maneuver, target_speed, agents, gap, reused, fresh, latency_ns, over_budget
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, int64(r.Cycle), r.At.UnixNano(), r.X, r.Y, r.S, r.D, r.Speed, r.PrevLane, r.Lane,
		r.Maneuver.String(), r.TargetSpeed, r.Agents, r.Gap, r.Reused, r.Fresh, int64(r.Latency), r.OverBudget,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle %d of session %s: %w", r.Cycle, r.SessionID, err)
	}
	return nil
}

// ObserveSession implements planner.Observer.
func (db *DB) ObserveSession(s *planner.Session, remote string) {
	if err := db.RecordSession(s, remote); err != nil {
		monitoring.Logf("db: %v", err)
	}
}

// ObserveCycle implements planner.Observer.
func (db *DB) ObserveCycle(r planner.CycleReport) {
	if err := db.RecordCycle(r); err != nil {
		monitoring.Logf("db: %v", err)
	}
}

// Sessions returns the most recent sessions with their cycle counts.
func (db *DB) Sessions(limit int) ([]SessionRecord, error) {
	rows, err := db.Query(`
		SELECT s.session_id, COALESCE(s.remote_addr, ''), s.initial_lane, s.started_at,
			(SELECT COUNT(*) FROM plan_cycles c WHERE c.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.RemoteAddr, &rec.InitialLane, &rec.StartedAt, &rec.Cycles); err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RecentCycles returns up to limit cycles of a session in ascending cycle
// order, ending at the latest one.
func (db *DB) RecentCycles(sessionID string, limit int) ([]planner.CycleReport, error) {
	rows, err := db.Query(`
		SELECT cycle, at_unix_nanos, x, y, s, d, speed, prev_lane, lane, maneuver,
			target_speed, agents, COALESCE(gap, 0), reused, fresh, latency_ns, over_budget
		FROM (
			SELECT * FROM plan_cycles WHERE session_id = ? ORDER BY cycle DESC LIMIT ?
		)
		ORDER BY cycle ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []planner.CycleReport
	for rows.Next() {
		var (
			r        planner.CycleReport
			cycle    int64
			atNanos  int64
			maneuver string
			latency  int64
		)
		if err := rows.Scan(
			&cycle, &atNanos, &r.X, &r.Y, &r.S, &r.D, &r.Speed, &r.PrevLane, &r.Lane, &maneuver,
			&r.TargetSpeed, &r.Agents, &r.Gap, &r.Reused, &r.Fresh, &latency, &r.OverBudget,
		); err != nil {
			return nil, err
		}
		var m decision.Maneuver
		if err := m.UnmarshalText([]byte(maneuver)); err != nil {
			return nil, err
		}
		r.SessionID = sessionID
		r.Cycle = uint64(cycle)
		r.At = time.Unix(0, atNanos).UTC()
		r.Maneuver = m
		r.Latency = time.Duration(latency)
		cycles = append(cycles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cycles, nil
}
