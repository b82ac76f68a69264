// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/receiptsync/internal/models"
)

var (
	// ErrNotFound is returned when a group, receipt or entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a change would orphan a reference, such as
	// removing a person who still pays for or is assigned to something.
	ErrConflict = errors.New("conflict")

	// ErrInvalid is returned for malformed input: negative prices, unknown
	// people, duplicate names.
	ErrInvalid = errors.New("invalid input")
)

// Store defines the interface for ledger storage operations.
// This abstraction allows swapping storage backends without changing the
// service layer.
//
// Every mutation advances the owning group's version and returns it.
type Store interface {
	// CreateGroup persists a new group. ID, slug and timestamps are assigned
	// by the store.
	CreateGroup(ctx context.Context, in models.NewGroup) (*models.Group, error)

	// GetGroup retrieves a group with all receipts and entries.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListGroups returns every group without receipts, newest first.
	ListGroups(ctx context.Context) ([]models.Group, error)

	// GroupVersion returns the group's current version.
	GroupVersion(ctx context.Context, groupID string) (models.Version, error)

	// UpdateGroup applies a partial update. Removing a person who is still
	// on a receipt returns ErrConflict.
	UpdateGroup(ctx context.Context, groupID string, patch models.GroupPatch) (*models.Group, error)

	// DeleteGroup removes a group and everything beneath it.
	DeleteGroup(ctx context.Context, groupID string) error

	// CreateReceipt adds a receipt, with optional entries, to a group.
	CreateReceipt(ctx context.Context, groupID string, in models.NewReceipt) (*models.Receipt, models.Version, error)

	// GetReceipt retrieves a receipt with its entries.
	GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error)

	// ListReceipts returns a group's receipts in creation order.
	ListReceipts(ctx context.Context, groupID string) ([]models.Receipt, error)

	// UpdateReceipt applies a partial update. Removing a person who still
	// pays for or is assigned on the receipt returns ErrConflict.
	UpdateReceipt(ctx context.Context, receiptID string, patch models.ReceiptPatch) (*models.Receipt, models.Version, error)

	// DeleteReceipt removes a receipt and its entries.
	DeleteReceipt(ctx context.Context, receiptID string) (groupID string, v models.Version, err error)

	// CreateEntry appends an entry to a receipt.
	CreateEntry(ctx context.Context, receiptID string, in models.NewEntry) (*models.Entry, models.Version, error)

	// UpdateEntry applies a partial update to an entry.
	UpdateEntry(ctx context.Context, entryID string, patch models.EntryPatch) (*models.Entry, models.Version, error)

	// DeleteEntry removes an entry from its receipt.
	DeleteEntry(ctx context.Context, receiptID, entryID string) (models.Version, error)

	// GroupOf returns the ID of the group owning a receipt.
	GroupOf(ctx context.Context, receiptID string) (string, error)

	// Close releases any resources held by the store.
	Close() error
}
