package models

import (
	"fmt"
	"slices"
)

// Receipt represents one purchase with line items.
type Receipt struct {
	// ID is the unique identifier for the receipt (UUID format).
	ID string `json:"id"`

	// GroupID is the group this receipt belongs to.
	GroupID string `json:"group_id"`

	// Name is the display name (e.g., "Whole Foods Market").
	Name string `json:"name"`

	// CreatedAt is the Unix timestamp when the receipt was created.
	CreatedAt int64 `json:"created_at"`

	// Processed marks the receipt as settled. Processed receipts are
	// excluded from outstanding balances.
	Processed bool `json:"processed"`

	// PaidBy is the person who fronted the whole amount, or empty if unset.
	PaidBy string `json:"paid_by,omitempty"`

	// People is the subset of group people sharing this receipt.
	People []string `json:"people"`

	// Entries are the line items in receipt order.
	Entries []Entry `json:"entries"`

	// RawData is optional free text captured with the receipt.
	RawData string `json:"raw_data,omitempty"`
}

// Entry represents a single line item on a receipt.
type Entry struct {
	// ID is the unique identifier for the entry (UUID format).
	ID string `json:"id"`

	// ReceiptID is the receipt this entry belongs to.
	ReceiptID string `json:"receipt_id"`

	// Name is the item description (e.g., "Organic Apples").
	Name string `json:"name"`

	// Price is the pre-tax price. Never negative.
	Price float64 `json:"price"`

	// Taxable entries have the tax rate applied on top of Price.
	Taxable bool `json:"taxable"`

	// AssignedTo lists who splits this entry. An empty list means the entry
	// is shared by everyone the receipt is split among.
	AssignedTo []string `json:"assigned_to"`
}

// EntryIndex returns the index of the entry with the given ID, or -1.
func (r *Receipt) EntryIndex(entryID string) int {
	for i := range r.Entries {
		if r.Entries[i].ID == entryID {
			return i
		}
	}
	return -1
}

// WithEntry returns a copy of r where the entry with e.ID is replaced by e.
// If no such entry exists, e is appended.
func (r Receipt) WithEntry(e Entry) Receipt {
	entries := slices.Clone(r.Entries)
	if i := r.EntryIndex(e.ID); i >= 0 {
		entries[i] = e
	} else {
		entries = append(entries, e)
	}
	r.Entries = entries
	return r
}

// WithoutEntry returns a copy of r without the given entry.
func (r Receipt) WithoutEntry(entryID string) Receipt {
	r.Entries = slices.DeleteFunc(slices.Clone(r.Entries), func(e Entry) bool {
		return e.ID == entryID
	})
	return r
}

// Clone returns a deep copy of r.
func (r Receipt) Clone() Receipt {
	r.People = slices.Clone(r.People)
	entries := make([]Entry, len(r.Entries))
	for i, e := range r.Entries {
		e.AssignedTo = slices.Clone(e.AssignedTo)
		entries[i] = e
	}
	r.Entries = entries
	return r
}

// Validate checks the receipt-level invariants.
func (r *Receipt) Validate() error {
	if r.PaidBy != "" && !Contains(r.People, r.PaidBy) {
		return fmt.Errorf("%w: receipt %s paid_by %q is not one of its people", ErrInvariant, r.ID, r.PaidBy)
	}
	for i := range r.Entries {
		e := &r.Entries[i]
		if e.Price < 0 {
			return fmt.Errorf("%w: entry %s has negative price %v", ErrInvariant, e.ID, e.Price)
		}
		for _, p := range e.AssignedTo {
			if !Contains(r.People, p) {
				return fmt.Errorf("%w: entry %s assigned to %q who is not on receipt %s", ErrInvariant, e.ID, p, r.ID)
			}
		}
	}
	return nil
}
