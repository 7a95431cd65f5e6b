package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/evald/internal/evaluation"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the append-only evaluation table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database file at dbFile and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(dbFile string) (*Store, error) {
	dsn := dbFile
	if dbFile != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbFile), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Evaluations ---

// evaluationColumns is the SELECT list matching scanEvaluation.
var evaluationColumns = "id, session_id, model, user_query, llm_response, " +
	strings.Join(ScoreColumns(), ", ") + ", created_at"

// InsertEvaluation appends one row for the interaction and its scores and
// returns the generated id. Failures are reported as *PersistenceError.
func (s *Store) InsertEvaluation(in evaluation.Interaction, res evaluation.Result) (int64, error) {
	cols := ScoreColumns()
	placeholders := strings.Repeat(", ?", len(cols))

	args := make([]any, 0, 4+len(cols))
	args = append(args, in.SessionID, in.Model, in.Query, in.Response)
	for _, v := range res.Human.Values() {
		args = append(args, v)
	}
	for _, v := range res.LLM.Values() {
		args = append(args, v)
	}

	r, err := s.db.Exec(`INSERT INTO evaluation (session_id, model, user_query, llm_response, `+
		strings.Join(cols, ", ")+`) VALUES (?, ?, ?, ?`+placeholders+`)`, args...)
	if err != nil {
		return 0, &PersistenceError{Op: "insert evaluation", Err: err}
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, &PersistenceError{Op: "insert evaluation", Err: err}
	}
	return id, nil
}

// GetEvaluation returns the row with the given id, or ErrNotFound.
func (s *Store) GetEvaluation(id int64) (Evaluation, error) {
	row := s.db.QueryRow(`SELECT `+evaluationColumns+` FROM evaluation WHERE id = ?`, id)
	e, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return Evaluation{}, ErrNotFound
	}
	return e, err
}

// ListEvaluations returns the rows matching q. An unknown sort field or
// order yields an error wrapping ErrInvalidSort.
func (s *Store) ListEvaluations(q Query) ([]Evaluation, error) {
	field, order, err := sortClause(q.SortField, q.SortOrder)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	skip := q.Skip
	if skip < 0 {
		skip = 0
	}

	where, args := filterClause(q)
	args = append(args, limit, skip)

	// field and order come from the whitelist in sortClause.
	rows, err := s.db.Query(`SELECT `+evaluationColumns+` FROM evaluation`+where+
		` ORDER BY `+field+` `+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// CountEvaluations returns the number of stored rows.
func (s *Store) CountEvaluations() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM evaluation`).Scan(&n)
	return n, err
}

// Stats returns the row count and the per-column averages of all scores.
func (s *Store) Stats() (Stats, error) {
	cols := ScoreColumns()
	avgs := make([]string, len(cols))
	for i, c := range cols {
		avgs[i] = "COALESCE(AVG(" + c + "), 0)"
	}

	var st Stats
	dest := make([]any, 0, 1+len(cols))
	dest = append(dest, &st.Count)
	for _, f := range st.Human.Fields() {
		dest = append(dest, f)
	}
	for _, f := range st.LLM.Fields() {
		dest = append(dest, f)
	}

	if err := s.db.QueryRow(`SELECT COUNT(*), ` + strings.Join(avgs, ", ") + ` FROM evaluation`).Scan(dest...); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// ValidateSort reports whether field and order would be accepted by
// ListEvaluations.
func ValidateSort(field, order string) error {
	_, _, err := sortClause(field, order)
	return err
}

func sortClause(field, order string) (string, string, error) {
	if field == "" {
		field = "id"
	}
	valid := false
	for _, f := range SortFields() {
		if f == field {
			valid = true
			break
		}
	}
	if !valid {
		return "", "", fmt.Errorf("%w: sort_field %q", ErrInvalidSort, field)
	}

	switch order {
	case "", "asc":
		return field, "ASC", nil
	case "desc":
		return field, "DESC", nil
	default:
		return "", "", fmt.Errorf("%w: sort_order %q", ErrInvalidSort, order)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func filterClause(q Query) (string, []any) {
	var conds []string
	var args []any
	if q.UserQuery != "" {
		conds = append(conds, `user_query LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(q.UserQuery)+"%")
	}
	if q.LLMResponse != "" {
		conds = append(conds, `llm_response LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(q.LLMResponse)+"%")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(r rowScanner) (Evaluation, error) {
	var e Evaluation
	var createdAt string

	dest := []any{&e.ID, &e.SessionID, &e.Model, &e.UserQuery, &e.LLMResponse}
	for _, f := range e.Human.Fields() {
		dest = append(dest, f)
	}
	for _, f := range e.LLM.Fields() {
		dest = append(dest, f)
	}
	dest = append(dest, &createdAt)

	if err := r.Scan(dest...); err != nil {
		return Evaluation{}, err
	}
	t, err := time.ParseInLocation(createdAtLayout, createdAt, time.UTC)
	if err != nil {
		return Evaluation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}
