package export

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"teslamon/internal/sample"
)

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    exported_at DATETIME NOT NULL,
    samples     INTEGER  NOT NULL
);

CREATE TABLE IF NOT EXISTS samples (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id    INTEGER NOT NULL REFERENCES runs(id),
    t_ms      INTEGER NOT NULL,
    t_ms_rel  INTEGER NOT NULL,
    t_s_rel   REAL    NOT NULL,
    servo_deg INTEGER NOT NULL,
    v_div     REAL    NOT NULL,
    v_rf      REAL    NOT NULL,
    v_photo   REAL    NOT NULL,
    r_m       REAL    NOT NULL,
    b_exp     REAL    NOT NULL,
    l_exp     REAL    NOT NULL,
    v_in      REAL    NOT NULL,
    p_in      REAL    NOT NULL,
    b_teo     REAL,
    l_teo     REAL,
    err_b_abs REAL,
    err_l_abs REAL,
    err_b_rel REAL,
    err_l_rel REAL
);

CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id);
`

const insertRunSQL = `INSERT INTO runs (exported_at, samples) VALUES (?, ?)`

const insertSampleSQL = `
INSERT INTO samples (
    run_id, t_ms, t_ms_rel, t_s_rel, servo_deg,
    v_div, v_rf, v_photo, r_m, b_exp, l_exp, v_in, p_in,
    b_teo, l_teo, err_b_abs, err_l_abs, err_b_rel, err_l_rel
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Sqlite exports a run history into a SQLite database, appending a new
// run row per export so several runs can share one file.
type Sqlite struct{}

// NewSqlite creates a SQLite exporter.
func NewSqlite() *Sqlite {
	return &Sqlite{}
}

// Export stores the history at outputPath and returns the path. The
// schema is created even when the history is empty. All rows of a run
// are written in a single transaction.
func (e *Sqlite) Export(history []sample.Processed, outputPath string) (path string, err error) {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating output directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", outputPath))
	if err != nil {
		return "", fmt.Errorf("opening database: %w", err)
	}
	defer closeWithError(db, &err)

	if _, err = db.Exec(initSchemaSQL); err != nil {
		return "", fmt.Errorf("initializing schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}

	if err = insertRun(tx, history); err != nil {
		rollbackWithError(tx, &err)
		return "", err
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}

	return outputPath, nil
}

func insertRun(tx *sql.Tx, history []sample.Processed) (err error) {
	result, err := tx.Exec(insertRunSQL, time.Now().UTC(), len(history))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("resolving run id: %w", err)
	}

	stmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		return fmt.Errorf("preparing sample insert: %w", err)
	}
	defer closeWithError(stmt, &err)

	var t0 int64
	if len(history) > 0 {
		t0 = history[0].TMillis
	}

	for _, p := range history {
		tRel := p.TMillis - t0

		_, err = stmt.Exec(
			runID, p.TMillis, tRel, float64(tRel)/1000.0, p.ServoDeg,
			p.VDiv, p.VRF, p.VPhoto, p.RMeters, p.BExp, p.LExp, p.VIn, p.PIn,
			toNullFloat(p.BTeo), toNullFloat(p.LTeo),
			toNullFloat(p.ErrBAbs), toNullFloat(p.ErrLAbs),
			toNullFloat(p.ErrBRel), toNullFloat(p.ErrLRel),
		)
		if err != nil {
			return fmt.Errorf("inserting sample: %w", err)
		}
	}

	return nil
}

func toNullFloat(v sample.Value) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v.V, Valid: v.Valid}
}

// rollbackWithError rolls back rb and surfaces the rollback failure
// only when no earlier error is pending.
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rErr := rb.Rollback(); rErr != nil && *err == nil {
		*err = rErr
	}
}
