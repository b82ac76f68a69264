package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/mmynk/receiptsync/internal/models"
	"github.com/mmynk/receiptsync/internal/storage"
)

func newEntry(receiptID string, in models.NewEntry) models.Entry {
	e := models.Entry{
		ID:         uuid.New().String(),
		ReceiptID:  receiptID,
		Name:       in.Name,
		Price:      in.Price,
		Taxable:    in.Taxable,
		AssignedTo: slices.Clone(in.AssignedTo),
	}
	if e.AssignedTo == nil {
		e.AssignedTo = []string{}
	}
	return e
}

// CreateEntry appends an entry to a receipt.
func (s *SQLiteStore) CreateEntry(ctx context.Context, receiptID string, in models.NewEntry) (*models.Entry, models.Version, error) {
	entry := newEntry(receiptID, in)

	var version models.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		receipt, err := s.getReceipt(ctx, tx, receiptID)
		if err != nil {
			return err
		}
		if err := checkEntry(receipt.People, entry); err != nil {
			return err
		}
		if err := insertEntry(ctx, tx, &entry); err != nil {
			return err
		}
		version, err = s.bumpVersion(ctx, tx, receipt.GroupID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return &entry, version, nil
}

// UpdateEntry applies a partial update to an entry.
func (s *SQLiteStore) UpdateEntry(ctx context.Context, entryID string, patch models.EntryPatch) (*models.Entry, models.Version, error) {
	var (
		entry   models.Entry
		version models.Version
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var receiptID string
		err := tx.QueryRowContext(ctx, "SELECT receipt_id FROM entries WHERE id = ?", entryID).Scan(&receiptID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("entry %s: %w", entryID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get entry: %w", err)
		}

		receipt, err := s.getReceipt(ctx, tx, receiptID)
		if err != nil {
			return err
		}
		current := receipt.Entries[receipt.EntryIndex(entryID)]
		entry = patch.Apply(current)
		if entry.AssignedTo == nil {
			entry.AssignedTo = []string{}
		}
		if err := checkEntry(receipt.People, entry); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE entries SET name = ?, price = ?, taxable = ? WHERE id = ?",
			entry.Name, entry.Price, boolToInt(entry.Taxable), entryID,
		)
		if err != nil {
			return fmt.Errorf("failed to update entry: %w", err)
		}
		if patch.AssignedTo != nil {
			if err := replaceNames(ctx, tx, "entry_assignments", "entry_id", entryID, entry.AssignedTo); err != nil {
				return err
			}
		}

		version, err = s.bumpVersion(ctx, tx, receipt.GroupID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return &entry, version, nil
}

// DeleteEntry removes an entry from its receipt.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, receiptID, entryID string) (models.Version, error) {
	var version models.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		groupID, err := groupOf(ctx, tx, receiptID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ? AND receipt_id = ?", entryID, receiptID)
		if err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("entry %s: %w", entryID, storage.ErrNotFound)
		}
		version, err = s.bumpVersion(ctx, tx, groupID)
		return err
	})
	if err != nil {
		return "", err
	}
	return version, nil
}

// insertEntry writes an entry row and its assignments at the end of its receipt.
func insertEntry(ctx context.Context, q querier, e *models.Entry) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO entries (id, receipt_id, name, price, taxable, position)
		 VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM entries WHERE receipt_id = ?))`,
		e.ID, e.ReceiptID, e.Name, e.Price, boolToInt(e.Taxable), e.ReceiptID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return replaceNames(ctx, q, "entry_assignments", "entry_id", e.ID, e.AssignedTo)
}

func loadEntries(ctx context.Context, q querier, receiptID string) ([]models.Entry, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, receipt_id, name, price, taxable FROM entries WHERE receipt_id = ? ORDER BY position",
		receiptID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}

	entries := []models.Entry{}
	for rows.Next() {
		var (
			e       models.Entry
			taxable int
		)
		if err := rows.Scan(&e.ID, &e.ReceiptID, &e.Name, &e.Price, &taxable); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Taxable = taxable != 0
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}

	for i := range entries {
		entries[i].AssignedTo, err = loadNames(ctx, q, "entry_assignments", "entry_id", entries[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// checkEntry validates an entry against its receipt's people.
func checkEntry(receiptPeople []string, e models.Entry) error {
	if e.Price < 0 {
		return fmt.Errorf("negative price %v: %w", e.Price, storage.ErrInvalid)
	}
	if err := uniqueNames("assigned_to", e.AssignedTo); err != nil {
		return err
	}
	for _, p := range e.AssignedTo {
		if !slices.Contains(receiptPeople, p) {
			return fmt.Errorf("%q is not on the receipt: %w", p, storage.ErrInvalid)
		}
	}
	return nil
}
