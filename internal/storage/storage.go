package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for jobs, captures and
// registration runs.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
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
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS captures (
            capture_id TEXT PRIMARY KEY,
            header_path TEXT NOT NULL,
            samples INTEGER,
            lines INTEGER,
            bands INTEGER,
            seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS registrations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT,
            capture_id TEXT NOT NULL,
            reference_id TEXT NOT NULL,
            output_path TEXT,
            matches INTEGER,
            inliers INTEGER,
            border_trim INTEGER,
            homography_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_capture_id ON registrations(capture_id);`,
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

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// CaptureRecord is one discovered reflectance capture.
type CaptureRecord struct {
	CaptureID  string
	HeaderPath string
	Samples    int
	Lines      int
	Bands      int
}

// RegistrationRecord summarizes one completed registration run.
type RegistrationRecord struct {
	JobID          string
	CaptureID      string
	ReferenceID    string
	OutputPath     string
	Matches        int
	Inliers        int
	BorderTrim     int
	HomographyJSON string
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordCapture upserts a discovered capture.
func (s *Store) RecordCapture(rec CaptureRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO captures (capture_id, header_path, samples, lines, bands) VALUES (?, ?, ?, ?, ?);`,
		rec.CaptureID, rec.HeaderPath, rec.Samples, rec.Lines, rec.Bands)
	return err
}

// Captures lists all known captures ordered by id.
func (s *Store) Captures() ([]CaptureRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT capture_id, header_path, samples, lines, bands FROM captures ORDER BY capture_id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []CaptureRecord
	for rows.Next() {
		var rec CaptureRecord
		if err := rows.Scan(&rec.CaptureID, &rec.HeaderPath, &rec.Samples, &rec.Lines, &rec.Bands); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// RecordRegistration persists a completed registration run.
func (s *Store) RecordRegistration(rec RegistrationRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO registrations (job_id, capture_id, reference_id, output_path, matches, inliers, border_trim, homography_json) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.CaptureID, rec.ReferenceID, rec.OutputPath, rec.Matches, rec.Inliers, rec.BorderTrim, rec.HomographyJSON)
	return err
}

// Registrations lists registration runs for a capture, newest first.
func (s *Store) Registrations(captureID string) ([]RegistrationRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, capture_id, reference_id, output_path, matches, inliers, border_trim, homography_json FROM registrations WHERE capture_id=? ORDER BY created_at DESC;`, captureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RegistrationRecord
	for rows.Next() {
		var rec RegistrationRecord
		if err := rows.Scan(&rec.JobID, &rec.CaptureID, &rec.ReferenceID, &rec.OutputPath, &rec.Matches, &rec.Inliers, &rec.BorderTrim, &rec.HomographyJSON); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
