package scan

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for registration runs and
// their pose chains.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// NewStore opens (or creates) the database at path and ensures schema.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS registration_runs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            scanner_id TEXT NOT NULL,
            status TEXT NOT NULL,
            capture_dir TEXT,
            read_from INTEGER,
            read_to INTEGER,
            read_step INTEGER,
            loop_size INTEGER,
            edge_balancing BOOLEAN DEFAULT FALSE,
            loop_closure BOOLEAN DEFAULT TRUE,
            loop_count INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS run_poses (
            run_id INTEGER NOT NULL,
            frame_index INTEGER NOT NULL,
            transform_json TEXT NOT NULL,
            fitness REAL,
            PRIMARY KEY (run_id, frame_index)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scanner ON registration_runs(scanner_id);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON registration_runs(status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures persisted run info.
type RunRecord struct {
	ID            int64
	ScannerID     string
	Status        string
	CaptureDir    string
	ReadFrom      int
	ReadTo        int
	ReadStep      int
	LoopSize      int
	EdgeBalancing bool
	LoopClosure   bool
	LoopCount     int
	Error         string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// RecordRunStart inserts a new run and returns its ID.
func (s *Store) RecordRunStart(scannerID string, cfg Config, loopCount int) (int64, error) {
	if s == nil {
		return 0, errors.New("store not initialized")
	}
	res, err := s.DB.Exec(`INSERT INTO registration_runs
        (scanner_id, status, capture_dir, read_from, read_to, read_step, loop_size, edge_balancing, loop_closure, loop_count)
        VALUES (?, 'running', ?, ?, ?, ?, ?, ?, ?, ?);`,
		scannerID, cfg.Capture.Dir, cfg.Capture.ReadFrom, cfg.Capture.ReadTo, cfg.Capture.ReadStep,
		cfg.Pipeline.LoopSize, cfg.Pipeline.EdgeBalancing, cfg.Pipeline.LoopClosure, loopCount)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordRunResult finalizes a run with status and optional error.
func (s *Store) RecordRunResult(id int64, status string, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE registration_runs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`,
		status, errMsg, id)
	return err
}

// SaveChain persists every pose of a chain for a run.
func (s *Store) SaveChain(runID int64, chain PoseChain) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO run_poses (run_id, frame_index, transform_json, fitness) VALUES (?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, pose := range chain.Poses {
		transformJSON, err := json.Marshal(pose.Transform)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal transform for frame %d: %w", pose.FrameIndex, err)
		}
		if _, err := stmt.Exec(runID, pose.FrameIndex, string(transformJSON), pose.Fitness); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadChain reads the pose chain for a run, ordered by frame index.
func (s *Store) LoadChain(runID int64) (*PoseChain, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT frame_index, transform_json, fitness FROM run_poses WHERE run_id=? ORDER BY frame_index;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chain := &PoseChain{}
	for rows.Next() {
		var pose Pose
		var transformJSON string
		if err := rows.Scan(&pose.FrameIndex, &transformJSON, &pose.Fitness); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(transformJSON), &pose.Transform); err != nil {
			return nil, fmt.Errorf("unmarshal transform for frame %d: %w", pose.FrameIndex, err)
		}
		chain.Poses = append(chain.Poses, pose)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chain, nil
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, scanner_id, status, capture_dir, read_from, read_to, read_step, loop_size, edge_balancing, loop_closure, loop_count, created_at, completed_at, error_message
        FROM registration_runs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ScannerID, &rec.Status, &rec.CaptureDir,
			&rec.ReadFrom, &rec.ReadTo, &rec.ReadStep, &rec.LoopSize,
			&rec.EdgeBalancing, &rec.LoopClosure, &rec.LoopCount,
			&rec.CreatedAt, &completed, &errorMsg); err != nil {
			return nil, err
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// LatestRunFor returns the most recent completed run for a scanner.
func (s *Store) LatestRunFor(scannerID string) (*RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var rec RunRecord
	var completed sql.NullTime
	var errorMsg sql.NullString
	err := s.DB.QueryRow(`SELECT id, scanner_id, status, capture_dir, read_from, read_to, read_step, loop_size, edge_balancing, loop_closure, loop_count, created_at, completed_at, error_message
        FROM registration_runs WHERE scanner_id=? AND status='done' ORDER BY created_at DESC LIMIT 1;`, scannerID).
		Scan(&rec.ID, &rec.ScannerID, &rec.Status, &rec.CaptureDir,
			&rec.ReadFrom, &rec.ReadTo, &rec.ReadStep, &rec.LoopSize,
			&rec.EdgeBalancing, &rec.LoopClosure, &rec.LoopCount,
			&rec.CreatedAt, &completed, &errorMsg)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if errorMsg.Valid {
		rec.Error = errorMsg.String
	}
	return &rec, nil
}
