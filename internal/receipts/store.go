// Package receipts keeps a ledger of completed checkouts in SQLite.
package receipts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/cart"
)

// ErrNotFound is returned by Get for an unknown receipt id.
var ErrNotFound = errors.New("receipts: not found")

// Receipt is one recorded checkout.
type Receipt struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Total     float64     `json:"total"`
	ItemCount int         `json:"item_count"`
	Lines     []cart.Line `json:"lines"`
}

// Store is a SQLite-backed receipt ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the ledger at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		total REAL NOT NULL,
		item_count INTEGER NOT NULL,
		lines TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create receipts table: %w", err)
	}
	return nil
}

// Record stores a checkout snapshot and returns the new receipt.
func (s *Store) Record(ctx context.Context, snap cart.Snapshot) (Receipt, error) {
	lines := snap.Lines
	if lines == nil {
		lines = []cart.Line{}
	}
	encoded, err := json.Marshal(lines)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode lines: %w", err)
	}

	r := Receipt{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		Total:     snap.Total,
		ItemCount: snap.ItemCount,
		Lines:     lines,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO receipts (id, created_at, total, item_count, lines) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UnixNano(), r.Total, r.ItemCount, string(encoded))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to insert receipt: %w", err)
	}
	return r, nil
}

// List returns up to limit receipts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Receipt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, total, item_count, lines FROM receipts ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	out := []Receipt{}
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one receipt by id.
func (s *Store) Get(ctx context.Context, id string) (Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, total, item_count, lines FROM receipts WHERE id = ?`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, ErrNotFound
	}
	return r, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(sc scanner) (Receipt, error) {
	var (
		r       Receipt
		created int64
		lines   string
	)
	if err := sc.Scan(&r.ID, &created, &r.Total, &r.ItemCount, &lines); err != nil {
		return Receipt{}, err
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(lines), &r.Lines); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt %s: %w", r.ID, err)
	}
	return r, nil
}
