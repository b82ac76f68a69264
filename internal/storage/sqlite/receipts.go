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

// CreateReceipt adds a receipt and its entries to a group.
func (s *SQLiteStore) CreateReceipt(ctx context.Context, groupID string, in models.NewReceipt) (*models.Receipt, models.Version, error) {
	receipt := &models.Receipt{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		Name:      in.Name,
		CreatedAt: s.now().Unix(),
		Processed: in.Processed,
		PaidBy:    in.PaidBy,
		People:    slices.Clone(in.People),
		Entries:   make([]models.Entry, 0, len(in.Entries)),
		RawData:   in.RawData,
	}
	if receipt.People == nil {
		receipt.People = []string{}
	}
	for _, ne := range in.Entries {
		receipt.Entries = append(receipt.Entries, newEntry(receipt.ID, ne))
	}

	var version models.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		group, err := s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if err := checkReceipt(group.People, receipt); err != nil {
			return err
		}
		for _, e := range receipt.Entries {
			if err := checkEntry(receipt.People, e); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO receipts (id, group_id, name, created_at, processed, paid_by, raw_data, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM receipts WHERE group_id = ?))`,
			receipt.ID, groupID, receipt.Name, receipt.CreatedAt, boolToInt(receipt.Processed),
			receipt.PaidBy, receipt.RawData, groupID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert receipt: %w", err)
		}
		if err := replaceNames(ctx, tx, "receipt_people", "receipt_id", receipt.ID, receipt.People); err != nil {
			return err
		}
		for i := range receipt.Entries {
			if err := insertEntry(ctx, tx, &receipt.Entries[i]); err != nil {
				return err
			}
		}

		version, err = s.bumpVersion(ctx, tx, groupID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return receipt, version, nil
}

// GetReceipt retrieves a receipt by ID, including its entries.
func (s *SQLiteStore) GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error) {
	return s.getReceipt(ctx, s.db, receiptID)
}

func (s *SQLiteStore) getReceipt(ctx context.Context, q querier, receiptID string) (*models.Receipt, error) {
	receipts, err := s.loadReceipts(ctx, q, "WHERE id = ?", receiptID)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, fmt.Errorf("receipt %s: %w", receiptID, storage.ErrNotFound)
	}
	return &receipts[0], nil
}

// ListReceipts returns a group's receipts in creation order.
func (s *SQLiteStore) ListReceipts(ctx context.Context, groupID string) ([]models.Receipt, error) {
	if _, err := s.GroupVersion(ctx, groupID); err != nil {
		return nil, err
	}
	return s.loadReceipts(ctx, s.db, "WHERE group_id = ?", groupID)
}

// UpdateReceipt applies a partial update to a receipt.
func (s *SQLiteStore) UpdateReceipt(ctx context.Context, receiptID string, patch models.ReceiptPatch) (*models.Receipt, models.Version, error) {
	var (
		receipt *models.Receipt
		version models.Version
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getReceipt(ctx, tx, receiptID)
		if err != nil {
			return err
		}
		next := patch.Apply(*current)

		if patch.People != nil {
			if err := uniqueNames("receipt people", next.People); err != nil {
				return err
			}
			// The payer may be dropped only together with an explicit new payer.
			gone := removed(current.People, next.People)
			check := *current
			if patch.PaidBy != nil {
				check.PaidBy = next.PaidBy
			}
			if err := stillReferenced(check, gone); err != nil {
				return err
			}
		}

		people, err := loadNames(ctx, tx, "group_people", "group_id", current.GroupID)
		if err != nil {
			return err
		}
		if err := checkReceipt(people, &next); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE receipts SET name = ?, processed = ?, paid_by = ? WHERE id = ?",
			next.Name, boolToInt(next.Processed), next.PaidBy, receiptID,
		)
		if err != nil {
			return fmt.Errorf("failed to update receipt: %w", err)
		}
		if patch.People != nil {
			if err := replaceNames(ctx, tx, "receipt_people", "receipt_id", receiptID, next.People); err != nil {
				return err
			}
		}

		version, err = s.bumpVersion(ctx, tx, current.GroupID)
		if err != nil {
			return err
		}
		receipt, err = s.getReceipt(ctx, tx, receiptID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return receipt, version, nil
}

// DeleteReceipt removes a receipt; entries cascade.
func (s *SQLiteStore) DeleteReceipt(ctx context.Context, receiptID string) (string, models.Version, error) {
	var (
		groupID string
		version models.Version
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		groupID, err = groupOf(ctx, tx, receiptID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM receipts WHERE id = ?", receiptID); err != nil {
			return fmt.Errorf("failed to delete receipt: %w", err)
		}
		version, err = s.bumpVersion(ctx, tx, groupID)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return groupID, version, nil
}

// loadReceipts reads receipts matching the WHERE clause, fully populated.
// Rows are drained before child queries run, since the pool has a single
// connection.
func (s *SQLiteStore) loadReceipts(ctx context.Context, q querier, where string, args ...any) ([]models.Receipt, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, group_id, name, created_at, processed, paid_by, raw_data FROM receipts "+where+" ORDER BY position",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipts: %w", err)
	}

	receipts := []models.Receipt{}
	for rows.Next() {
		var (
			r         models.Receipt
			processed int
		)
		if err := rows.Scan(&r.ID, &r.GroupID, &r.Name, &r.CreatedAt, &processed, &r.PaidBy, &r.RawData); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		r.Processed = processed != 0
		receipts = append(receipts, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipts: %w", err)
	}

	for i := range receipts {
		r := &receipts[i]
		if r.People, err = loadNames(ctx, q, "receipt_people", "receipt_id", r.ID); err != nil {
			return nil, err
		}
		if r.Entries, err = loadEntries(ctx, q, r.ID); err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

// checkReceipt validates a receipt against the group's people.
func checkReceipt(groupPeople []string, r *models.Receipt) error {
	for _, p := range r.People {
		if !slices.Contains(groupPeople, p) {
			return fmt.Errorf("%q is not in the group: %w", p, storage.ErrInvalid)
		}
	}
	if err := uniqueNames("receipt people", r.People); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		if errors.Is(err, models.ErrInvariant) {
			return fmt.Errorf("%w: %w", storage.ErrInvalid, err)
		}
		return err
	}
	return nil
}
