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

// CreateGroup persists a new group.
func (s *SQLiteStore) CreateGroup(ctx context.Context, in models.NewGroup) (*models.Group, error) {
	if err := uniqueNames("group people", in.People); err != nil {
		return nil, err
	}

	now := s.now()
	group := &models.Group{
		ID:        uuid.New().String(),
		Slug:      newSlug(),
		Name:      in.Name,
		People:    slices.Clone(in.People),
		Receipts:  []models.Receipt{},
		CreatedAt: now.Unix(),
		Version:   formatVersion(now.UnixNano()),
	}
	if group.People == nil {
		group.People = []string{}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO groups (id, slug, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			group.ID, group.Slug, group.Name, group.CreatedAt, now.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}
		return replaceNames(ctx, tx, "group_people", "group_id", group.ID, group.People)
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup retrieves a group by ID, including all receipts and entries.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var group *models.Group
	// A read transaction so the version matches the rows read with it.
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		group, err = s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		group.Receipts, err = s.loadReceipts(ctx, tx, "WHERE group_id = ?", groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// ListGroups returns all groups without their receipts.
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM groups ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	groups := make([]models.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.loadGroup(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, nil
}

// GroupVersion returns the group's current version.
func (s *SQLiteStore) GroupVersion(ctx context.Context, groupID string) (models.Version, error) {
	var stamp int64
	err := s.db.QueryRowContext(ctx, "SELECT updated_at FROM groups WHERE id = ?", groupID).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get group version: %w", err)
	}
	return formatVersion(stamp), nil
}

// UpdateGroup applies a partial update to a group.
//
// A person removed from the group is also dropped from every receipt they
// were on, unless they pay for or are assigned on one; then the update fails
// with storage.ErrConflict.
func (s *SQLiteStore) UpdateGroup(ctx context.Context, groupID string, patch models.GroupPatch) (*models.Group, error) {
	var group *models.Group
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}

		if patch.Name != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE groups SET name = ? WHERE id = ?", *patch.Name, groupID); err != nil {
				return fmt.Errorf("failed to update group: %w", err)
			}
		}

		if patch.People != nil {
			if err := uniqueNames("group people", *patch.People); err != nil {
				return err
			}
			if err := s.removeFromReceipts(ctx, tx, groupID, removed(current.People, *patch.People)); err != nil {
				return err
			}
			if err := replaceNames(ctx, tx, "group_people", "group_id", groupID, *patch.People); err != nil {
				return err
			}
		}

		if _, err := s.bumpVersion(ctx, tx, groupID); err != nil {
			return err
		}
		group, err = s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		group.Receipts, err = s.loadReceipts(ctx, tx, "WHERE group_id = ?", groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// DeleteGroup removes a group; receipts and entries cascade.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, groupID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	return nil
}

// GroupOf returns the ID of the group owning a receipt.
func (s *SQLiteStore) GroupOf(ctx context.Context, receiptID string) (string, error) {
	return groupOf(ctx, s.db, receiptID)
}

func groupOf(ctx context.Context, q querier, receiptID string) (string, error) {
	var groupID string
	err := q.QueryRowContext(ctx, "SELECT group_id FROM receipts WHERE id = ?", receiptID).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("receipt %s: %w", receiptID, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get receipt group: %w", err)
	}
	return groupID, nil
}

// loadGroup reads the group row and its people, without receipts.
func (s *SQLiteStore) loadGroup(ctx context.Context, q querier, groupID string) (*models.Group, error) {
	group := &models.Group{Receipts: []models.Receipt{}}
	var stamp int64
	err := q.QueryRowContext(ctx,
		"SELECT id, slug, name, created_at, updated_at FROM groups WHERE id = ?",
		groupID,
	).Scan(&group.ID, &group.Slug, &group.Name, &group.CreatedAt, &stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	group.Version = formatVersion(stamp)

	group.People, err = loadNames(ctx, q, "group_people", "group_id", groupID)
	if err != nil {
		return nil, err
	}
	return group, nil
}

// removeFromReceipts drops people from every receipt of the group.
func (s *SQLiteStore) removeFromReceipts(ctx context.Context, q querier, groupID string, people []string) error {
	if len(people) == 0 {
		return nil
	}
	receipts, err := s.loadReceipts(ctx, q, "WHERE group_id = ?", groupID)
	if err != nil {
		return err
	}
	for _, r := range receipts {
		if err := stillReferenced(r, people); err != nil {
			return err
		}
	}
	for _, r := range receipts {
		kept := slices.DeleteFunc(slices.Clone(r.People), func(p string) bool {
			return slices.Contains(people, p)
		})
		if len(kept) == len(r.People) {
			continue
		}
		if err := replaceNames(ctx, q, "receipt_people", "receipt_id", r.ID, kept); err != nil {
			return err
		}
	}
	return nil
}

// stillReferenced fails with ErrConflict if any of people pays for or is
// assigned on the receipt.
func stillReferenced(r models.Receipt, people []string) error {
	for _, p := range people {
		if r.PaidBy == p {
			return fmt.Errorf("%q paid for receipt %s: %w", p, r.ID, storage.ErrConflict)
		}
		for _, e := range r.Entries {
			if slices.Contains(e.AssignedTo, p) {
				return fmt.Errorf("%q is assigned to entry %s: %w", p, e.ID, storage.ErrConflict)
			}
		}
	}
	return nil
}

// removed returns the names in before that are missing from after.
func removed(before, after []string) []string {
	var out []string
	for _, p := range before {
		if !slices.Contains(after, p) {
			out = append(out, p)
		}
	}
	return out
}
