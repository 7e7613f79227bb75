package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres persists records in a results table via a pgx pool.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects and pings the database.
func NewPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	logger.Info("postgres result store connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Migrate executes all .up.sql files from the migrations directory in
// lexical order.
func (s *Postgres) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("store: read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("store: exec migration %s: %w", f, err)
		}
		s.logger.Info("migration applied", zap.String("file", f))
	}
	return nil
}

func (s *Postgres) Add(ctx context.Context, r *Record) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	data, err := json.Marshal(r.Data)
	if err != nil {
		return "", fmt.Errorf("store: marshal data: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO results (id, type, source, file_path, line, message, priority, tags, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.Type, r.Source, r.FilePath, r.Line, r.Message, string(r.Priority), r.Tags, data, r.Timestamp,
	)
	if err != nil {
		return "", fmt.Errorf("store: insert result %s: %w", r.ID, err)
	}
	return r.ID, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, type, source, COALESCE(file_path,''), line, COALESCE(message,''), priority, tags, data, created_at
		FROM results WHERE id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get result %s: %w", id, err)
	}
	return r, nil
}

func (s *Postgres) List(ctx context.Context, f Filter) ([]*Record, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, type, source, COALESCE(file_path,''), line, COALESCE(message,''), priority, tags, data, created_at
		FROM results WHERE 1=1`)
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		query.WriteString(fmt.Sprintf(" AND %s = $%d", clause, len(args)))
	}
	if f.Type != "" {
		add("type", f.Type)
	}
	if f.Source != "" {
		add("source", f.Source)
	}
	if f.FilePath != "" {
		add("file_path", f.FilePath)
	}
	if f.Priority != "" {
		add("priority", string(f.Priority))
	}
	if f.Tag != "" {
		args = append(args, f.Tag)
		query.WriteString(fmt.Sprintf(" AND $%d = ANY(tags)", len(args)))
	}
	query.WriteString(" ORDER BY created_at ASC")

	rows, err := s.db.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list results: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) Clear(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM results`)
	if err != nil {
		return 0, fmt.Errorf("store: clear results: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) Summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		ByType:     make(map[string]int),
		ByPriority: make(map[Priority]int),
	}

	rows, err := s.db.Query(ctx, `
		SELECT type, priority, COUNT(*), MAX(created_at)
		FROM results GROUP BY type, priority`)
	if err != nil {
		return nil, fmt.Errorf("store: summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ, prio string
		var count int
		var latest time.Time
		if err := rows.Scan(&typ, &prio, &count, &latest); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		summary.Total += count
		summary.ByType[typ] += count
		summary.ByPriority[Priority(prio)] += count
		if latest.After(summary.LastUpdated) {
			summary.LastUpdated = latest
		}
	}
	return summary, rows.Err()
}

// Close shuts down the connection pool.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var prio string
	var data []byte
	if err := row.Scan(&r.ID, &r.Type, &r.Source, &r.FilePath, &r.Line, &r.Message,
		&prio, &r.Tags, &data, &r.Timestamp); err != nil {
		return nil, err
	}
	r.Priority = Priority(prio)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.Data); err != nil {
			return nil, err
		}
	}
	return &r, nil
}
