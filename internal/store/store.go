// Package store keeps a sqlite log of published detections.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Row is one stored detection.
type Row struct {
	ID int64 `json:"id"`
	detection.Detection
}

// Store is a detection log backed by sqlite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: that would close db.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	logger.WithComponent("store").Debug().Msgf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a batch of detections in one transaction.
func (s *Store) Insert(ctx context.Context, dets []detection.Detection) error {
	if len(dets) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (
			timestamp_ns, frame_id, class_id, class_name, camera,
			class_confidence, detection_confidence, x_min, y_min, x_max, y_max
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range dets {
		if _, err := stmt.ExecContext(ctx,
			d.Timestamp, d.FrameID, d.ClassID, d.ClassName, d.Camera,
			d.ClassConfidence, d.DetectionConfidence, d.XMin, d.YMin, d.XMax, d.YMax,
		); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}
	return tx.Commit()
}

const selectColumns = `id, timestamp_ns, frame_id, class_id, class_name, camera,
	class_confidence, detection_confidence, x_min, y_min, x_max, y_max`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (Row, error) {
	r := Row{Detection: detection.New()}
	err := sc.Scan(&r.ID, &r.Timestamp, &r.FrameID, &r.ClassID, &r.ClassName, &r.Camera,
		&r.ClassConfidence, &r.DetectionConfidence, &r.XMin, &r.YMin, &r.XMax, &r.YMax)
	return r, err
}

// Get returns the detection with the given id.
func (s *Store) Get(ctx context.Context, id int64) (Row, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM detections WHERE id = ?`, id)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("failed to read detection %d: %w", id, err)
	}
	return r, nil
}

// Recent returns up to limit detections, newest first. An empty class
// matches every class.
func (s *Store) Recent(ctx context.Context, class string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + selectColumns + ` FROM detections`
	args := []any{}
	if class != "" {
		query += ` WHERE class_name = ?`
		args = append(args, class)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByClass returns how many detections were stored per class name.
func (s *Store) CountByClass(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT class_name, COUNT(*) FROM detections GROUP BY class_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
