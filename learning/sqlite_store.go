package learning

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS controller_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version TEXT NOT NULL,
	saved_at INTEGER NOT NULL,
	global_threshold REAL NOT NULL,
	min_threshold REAL NOT NULL,
	max_threshold REAL NOT NULL,
	learning_rate REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS person_thresholds (
	name TEXT PRIMARY KEY,
	value REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS person_stats (
	name TEXT PRIMARY KEY,
	correct INTEGER NOT NULL,
	incorrect INTEGER NOT NULL,
	total INTEGER NOT NULL,
	confidence_sum REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS feedback_history (
	seq INTEGER PRIMARY KEY,
	frame_id INTEGER NOT NULL,
	predicted TEXT NOT NULL,
	actual TEXT NOT NULL,
	is_correct INTEGER NOT NULL,
	similarity REAL NOT NULL,
	reward REAL NOT NULL,
	old_threshold REAL NOT NULL,
	new_threshold REAL NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS calibration (
	seq INTEGER PRIMARY KEY,
	is_correct INTEGER NOT NULL,
	similarity REAL NOT NULL
);
`

// SQLiteStore keeps state in a SQLite database. Save replaces everything in one transaction.
type SQLiteStore struct {
	path string
}

// NewSQLiteStore creates SQLiteStore for given database path
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Path returns database path
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open %s", s.path)
	}
	// set busy timeout to avoid transient locks
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
	return db, nil
}

// Save writes state
func (s *SQLiteStore) Save(state *State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrapf(err, "Can't create directory for %s", s.path)
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(sqliteSchema); err != nil {
		return errors.Wrap(err, "Can't create schema")
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "Can't begin transaction")
	}
	if err := writeState(tx, state); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "Can't commit state")
	}
	return nil
}

func writeState(tx *sql.Tx, state *State) error {
	for _, table := range []string{"controller_state", "person_thresholds", "person_stats", "feedback_history", "calibration"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return errors.Wrapf(err, "Can't clear %s", table)
		}
	}
	_, err := tx.Exec(`INSERT INTO controller_state (id, version, saved_at, global_threshold, min_threshold, max_threshold, learning_rate)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		state.Version, state.SavedAt.UnixNano(), state.GlobalThreshold, state.MinThreshold, state.MaxThreshold, state.LearningRate)
	if err != nil {
		return errors.Wrap(err, "Can't insert controller state")
	}
	for name, value := range state.PersonThresholds {
		if _, err := tx.Exec(`INSERT INTO person_thresholds (name, value) VALUES (?, ?)`, name, value); err != nil {
			return errors.Wrapf(err, "Can't insert threshold for %s", name)
		}
	}
	for name, st := range state.PersonStats {
		_, err := tx.Exec(`INSERT INTO person_stats (name, correct, incorrect, total, confidence_sum) VALUES (?, ?, ?, ?, ?)`,
			name, st.Correct, st.Incorrect, st.Total, st.ConfidenceSum)
		if err != nil {
			return errors.Wrapf(err, "Can't insert statistics for %s", name)
		}
	}
	for i, e := range state.FeedbackHistory {
		_, err := tx.Exec(`INSERT INTO feedback_history (seq, frame_id, predicted, actual, is_correct, similarity, reward, old_threshold, new_threshold, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, e.FrameID, e.Predicted, e.Actual, e.IsCorrect, e.Similarity, e.Reward, e.OldThreshold, e.NewThreshold, e.Timestamp.UnixNano())
		if err != nil {
			return errors.Wrap(err, "Can't insert feedback event")
		}
	}
	seq := 0
	for _, group := range []struct {
		correct bool
		values  []float64
	}{{true, state.SimilarityCorrect}, {false, state.SimilarityIncorrect}} {
		for _, v := range group.values {
			if _, err := tx.Exec(`INSERT INTO calibration (seq, is_correct, similarity) VALUES (?, ?, ?)`, seq, group.correct, v); err != nil {
				return errors.Wrap(err, "Can't insert calibration sample")
			}
			seq++
		}
	}
	return nil
}

// Load reads state. Missing database file gives (nil, nil).
func (s *SQLiteStore) Load() (*State, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "Can't stat %s", s.path)
	}
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	state := &State{
		PersonThresholds: make(map[string]float64),
		PersonStats:      make(map[string]PersonStats),
	}
	var savedAt int64
	row := db.QueryRow(`SELECT version, saved_at, global_threshold, min_threshold, max_threshold, learning_rate FROM controller_state WHERE id = 1`)
	err = row.Scan(&state.Version, &savedAt, &state.GlobalThreshold, &state.MinThreshold, &state.MaxThreshold, &state.LearningRate)
	if err != nil {
		// Covers foreign files, missing tables and empty database
		return nil, errors.Wrapf(ErrMalformedState, "%s: %v", s.path, err)
	}
	state.SavedAt = time.Unix(0, savedAt).UTC()

	if err := readRows(db, `SELECT name, value FROM person_thresholds`, func(rows *sql.Rows) error {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		state.PersonThresholds[name] = value
		return nil
	}); err != nil {
		return nil, errors.Wrapf(ErrMalformedState, "person thresholds: %v", err)
	}

	if err := readRows(db, `SELECT name, correct, incorrect, total, confidence_sum FROM person_stats`, func(rows *sql.Rows) error {
		var name string
		var st PersonStats
		if err := rows.Scan(&name, &st.Correct, &st.Incorrect, &st.Total, &st.ConfidenceSum); err != nil {
			return err
		}
		state.PersonStats[name] = st
		return nil
	}); err != nil {
		return nil, errors.Wrapf(ErrMalformedState, "person statistics: %v", err)
	}

	if err := readRows(db, `SELECT frame_id, predicted, actual, is_correct, similarity, reward, old_threshold, new_threshold, created_at
		FROM feedback_history ORDER BY seq`, func(rows *sql.Rows) error {
		var e FeedbackEvent
		var createdAt int64
		if err := rows.Scan(&e.FrameID, &e.Predicted, &e.Actual, &e.IsCorrect, &e.Similarity, &e.Reward, &e.OldThreshold, &e.NewThreshold, &createdAt); err != nil {
			return err
		}
		e.Timestamp = time.Unix(0, createdAt).UTC()
		state.FeedbackHistory = append(state.FeedbackHistory, e)
		return nil
	}); err != nil {
		return nil, errors.Wrapf(ErrMalformedState, "feedback history: %v", err)
	}

	if err := readRows(db, `SELECT is_correct, similarity FROM calibration ORDER BY seq`, func(rows *sql.Rows) error {
		var correct bool
		var value float64
		if err := rows.Scan(&correct, &value); err != nil {
			return err
		}
		if correct {
			state.SimilarityCorrect = append(state.SimilarityCorrect, value)
		} else {
			state.SimilarityIncorrect = append(state.SimilarityIncorrect, value)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrapf(ErrMalformedState, "calibration: %v", err)
	}
	return state, nil
}

func readRows(db *sql.DB, query string, scan func(rows *sql.Rows) error) error {
	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
