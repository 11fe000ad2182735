// Package binding persists the idempotency ledger: one record per
// successfully transmitted (backend, document) pair. The unique constraint
// is the sole guard against recording the same send twice.
package binding

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/finvoice/go-apix-client/apix"
)

// Binding links a local document to one accepted gateway transaction.
type Binding struct {
	ID                 int64
	BackendID          string
	DocumentID         string
	BatchID            string
	AcceptedDocumentID string
	CostInCredits      decimal.Decimal
	CreatedAt          time.Time
}

// Store is a sqlite-backed binding ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open binding store")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bindings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			backend_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			batch_id TEXT NOT NULL DEFAULT '',
			accepted_document_id TEXT NOT NULL DEFAULT '',
			cost_in_credits TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(backend_id, document_id)
		);

		CREATE INDEX IF NOT EXISTS idx_bindings_batch_id ON bindings(batch_id);
		CREATE INDEX IF NOT EXISTS idx_bindings_accepted ON bindings(accepted_document_id);
	`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create bindings table")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a binding. A second binding for the same (backend,
// document) pair violates the unique constraint and is reported as
// apix.ErrAlreadySent: the earlier transmission stands, nothing was
// corrupted.
func (s *Store) Create(ctx context.Context, b *Binding) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bindings (backend_id, document_id, batch_id, accepted_document_id, cost_in_credits)
		VALUES (?, ?, ?, ?, ?)
	`, b.BackendID, b.DocumentID, b.BatchID, b.AcceptedDocumentID, b.CostInCredits.String())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return apix.ErrAlreadySent
		}
		return errors.Wrap(err, "insert binding")
	}

	b.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "binding id")
	}
	return nil
}

// Get returns the binding for (backend, document), or nil when none
// exists.
func (s *Store) Get(ctx context.Context, backendID, documentID string) (*Binding, error) {
	var b Binding
	err := s.db.QueryRowContext(ctx, `
		SELECT id, backend_id, document_id, batch_id, accepted_document_id, cost_in_credits, created_at
		FROM bindings
		WHERE backend_id = ? AND document_id = ?
		LIMIT 1
	`, backendID, documentID).Scan(
		&b.ID,
		&b.BackendID,
		&b.DocumentID,
		&b.BatchID,
		&b.AcceptedDocumentID,
		&b.CostInCredits,
		&b.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query binding")
	}
	return &b, nil
}

// ListByBackend returns all bindings recorded for one backend, newest
// first.
func (s *Store) ListByBackend(ctx context.Context, backendID string) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, backend_id, document_id, batch_id, accepted_document_id, cost_in_credits, created_at
		FROM bindings
		WHERE backend_id = ?
		ORDER BY id DESC
	`, backendID)
	if err != nil {
		return nil, errors.Wrap(err, "query bindings")
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(
			&b.ID,
			&b.BackendID,
			&b.DocumentID,
			&b.BatchID,
			&b.AcceptedDocumentID,
			&b.CostInCredits,
			&b.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan binding")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
