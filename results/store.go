// Package results persists every analysis output to one SQLite file so the
// whole study can be queried, figure tools can re-read prior steps, and any
// number can be traced back to the run and input files that produced it.
package results

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/carbocation/pfx"
	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v3"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tool        TEXT NOT NULL,
	study       TEXT NOT NULL,
	args        TEXT NOT NULL,
	inputs      TEXT NOT NULL,
	session     TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS qc_summary (
	run_id           INTEGER NOT NULL REFERENCES runs(id),
	sample           TEXT NOT NULL,
	condition        TEXT NOT NULL,
	n_cells          INTEGER NOT NULL,
	n_pass           INTEGER NOT NULL,
	n_fail_counts    INTEGER NOT NULL,
	n_fail_genes     INTEGER NOT NULL,
	n_fail_mito      INTEGER NOT NULL,
	median_counts    REAL NOT NULL,
	median_genes     REAL NOT NULL,
	median_pct_mito  REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS demux_summary (
	run_id    INTEGER NOT NULL REFERENCES runs(id),
	sample    TEXT NOT NULL,
	donor     TEXT NOT NULL,
	n_cells   INTEGER NOT NULL,
	fraction  REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS deg (
	run_id      INTEGER NOT NULL REFERENCES runs(id),
	contrast    TEXT NOT NULL,
	cell_type   TEXT NOT NULL,
	gene        TEXT NOT NULL,
	log2fc      REAL NOT NULL,
	p_value     REAL NOT NULL,
	p_adjusted  REAL,
	mean_case   REAL NOT NULL,
	mean_ref    REAL NOT NULL,
	pct_case    REAL NOT NULL,
	pct_ref     REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS deg_counts (
	run_id    INTEGER NOT NULL REFERENCES runs(id),
	contrast  TEXT NOT NULL,
	cell_type TEXT NOT NULL,
	n_up      INTEGER NOT NULL,
	n_down    INTEGER NOT NULL,
	n_tested  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kbet_results (
	run_id             INTEGER NOT NULL REFERENCES runs(id),
	grouping           TEXT NOT NULL,
	group_label        TEXT NOT NULL,
	neighborhood_size  INTEGER NOT NULL,
	n_neighborhoods    INTEGER NOT NULL,
	rejection_rate     REAL NOT NULL,
	expected_rate      REAL NOT NULL,
	median_p           REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS signature_scores (
	run_id     INTEGER NOT NULL REFERENCES runs(id),
	signature  TEXT NOT NULL,
	sample     TEXT NOT NULL,
	condition  TEXT NOT NULL,
	cell_type  TEXT NOT NULL,
	n_cells    INTEGER NOT NULL,
	mean_score   REAL NOT NULL,
	median_score REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS cluster_composition (
	run_id     INTEGER NOT NULL REFERENCES runs(id),
	cluster    TEXT NOT NULL,
	cell_type  TEXT NOT NULL,
	condition  TEXT NOT NULL,
	sample     TEXT NOT NULL,
	n_cells    INTEGER NOT NULL,
	fraction   REAL NOT NULL
);
`

// Store wraps the study's results database.
type Store struct {
	db *sqlx.DB
}

// Open connects to (or creates) the SQLite results database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	// URI filenames have to begin with 'file:'; see
	// https://www.sqlite.org/c3ref/open.html
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}

	db, err := sqlx.Connect("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, pfx.Err(err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pfx.Err(err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Run is one row of the runs table.
type Run struct {
	ID         int64     `db:"id"`
	Tool       string    `db:"tool"`
	Study      string    `db:"study"`
	Args       string    `db:"args"`
	Inputs     string    `db:"inputs"`
	Session    string    `db:"session"`
	Status     string    `db:"status"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt null.Time `db:"finished_at"`
}

// BeginRun records the start of a tool invocation and returns its run id.
// inputs maps each input path to its checksum.
func (s *Store) BeginRun(tool, study string, args []string, inputs map[string]string, session string) (int64, error) {
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return 0, pfx.Err(err)
	}

	res, err := s.db.Exec(
		`INSERT INTO runs (tool, study, args, inputs, session, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tool, study, strings.Join(args, " "), string(inputsJSON), session, StatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return 0, pfx.Err(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, pfx.Err(err)
	}

	return id, nil
}

// FinishRun marks a run as finished with the given status.
func (s *Store) FinishRun(runID int64, status string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UTC(), runID,
	)
	if err != nil {
		return pfx.Err(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pfx.Err(err)
	}
	if n != 1 {
		return fmt.Errorf("run %d: not found", runID)
	}

	return nil
}

// Runs lists all recorded runs, most recent first.
func (s *Store) Runs() ([]Run, error) {
	var out []Run
	if err := s.db.Select(&out, `SELECT * FROM runs ORDER BY started_at DESC, id DESC`); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// RunInputs decodes the path-to-checksum map recorded for a run.
func (r *Run) RunInputs() (map[string]string, error) {
	out := map[string]string{}
	if err := json.Unmarshal([]byte(r.Inputs), &out); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// insertAll runs one named statement per row inside a single transaction.
func (s *Store) insertAll(query string, rows []interface{}) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return pfx.Err(err)
	}
	for _, row := range rows {
		if _, err := tx.NamedExec(query, row); err != nil {
			tx.Rollback()
			return pfx.Err(err)
		}
	}

	return pfx.Err(tx.Commit())
}
