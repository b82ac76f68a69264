package models

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvariant is wrapped by every error returned from Validate.
var ErrInvariant = errors.New("ledger invariant violated")

// Version marks a group's latest mutation.
// Only equality is meaningful: callers never order two versions.
type Version string

// Group represents a shared ledger of people and receipts.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string `json:"id"`

	// Slug is a short URL-safe public handle for the group.
	Slug string `json:"slug"`

	// Name is the display name of the group (e.g., "Roommates").
	Name string `json:"name"`

	// People is the ordered list of member names. Names are unique.
	People []string `json:"people"`

	// Receipts are ordered by creation time.
	Receipts []Receipt `json:"receipts"`

	// Version advances on any mutation to the group or anything beneath it.
	Version Version `json:"version"`

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64 `json:"created_at"`
}

// ReceiptIndex returns the index of the receipt with the given ID, or -1.
func (g *Group) ReceiptIndex(receiptID string) int {
	for i := range g.Receipts {
		if g.Receipts[i].ID == receiptID {
			return i
		}
	}
	return -1
}

// Receipt returns the receipt with the given ID.
func (g *Group) Receipt(receiptID string) (Receipt, bool) {
	i := g.ReceiptIndex(receiptID)
	if i < 0 {
		return Receipt{}, false
	}
	return g.Receipts[i], true
}

// FindEntry locates an entry anywhere in the group.
func (g *Group) FindEntry(entryID string) (receiptIdx, entryIdx int, ok bool) {
	for i := range g.Receipts {
		if j := g.Receipts[i].EntryIndex(entryID); j >= 0 {
			return i, j, true
		}
	}
	return -1, -1, false
}

// Entry returns the entry with the given ID and the ID of its receipt.
func (g *Group) Entry(entryID string) (Entry, string, bool) {
	i, j, ok := g.FindEntry(entryID)
	if !ok {
		return Entry{}, "", false
	}
	return g.Receipts[i].Entries[j], g.Receipts[i].ID, true
}

// WithReceipt returns a copy of g where the receipt with r.ID is replaced by r.
// If no such receipt exists, r is appended.
func (g *Group) WithReceipt(r Receipt) *Group {
	out := *g
	out.Receipts = slices.Clone(g.Receipts)
	if i := g.ReceiptIndex(r.ID); i >= 0 {
		out.Receipts[i] = r
	} else {
		out.Receipts = append(out.Receipts, r)
	}
	return &out
}

// WithoutReceipt returns a copy of g without the given receipt.
func (g *Group) WithoutReceipt(receiptID string) *Group {
	out := *g
	out.Receipts = slices.DeleteFunc(slices.Clone(g.Receipts), func(r Receipt) bool {
		return r.ID == receiptID
	})
	return &out
}

// WithEntry returns a copy of g where the entry is replaced inside its receipt.
// The entry's ReceiptID selects the receipt; ok is false if it does not exist.
func (g *Group) WithEntry(e Entry) (*Group, bool) {
	r, found := g.Receipt(e.ReceiptID)
	if !found {
		return g, false
	}
	return g.WithReceipt(r.WithEntry(e)), true
}

// WithVersion returns a copy of g carrying the given version.
func (g *Group) WithVersion(v Version) *Group {
	out := *g
	out.Version = v
	return &out
}

// Clone returns a deep copy of g.
func (g *Group) Clone() *Group {
	out := *g
	out.People = slices.Clone(g.People)
	out.Receipts = make([]Receipt, len(g.Receipts))
	for i, r := range g.Receipts {
		out.Receipts[i] = r.Clone()
	}
	return &out
}

// Validate checks the ledger invariants for the whole group.
func (g *Group) Validate() error {
	seen := make(map[string]bool, len(g.People))
	for _, p := range g.People {
		if seen[p] {
			return fmt.Errorf("%w: duplicate person %q in group", ErrInvariant, p)
		}
		seen[p] = true
	}
	for i := range g.Receipts {
		r := &g.Receipts[i]
		for _, p := range r.People {
			if !seen[p] {
				return fmt.Errorf("%w: receipt %s person %q is not in the group", ErrInvariant, r.ID, p)
			}
		}
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Contains reports whether name is present in people.
func Contains(people []string, name string) bool {
	return slices.Contains(people, name)
}

// Toggle returns a new list with name removed if present, appended otherwise.
func Toggle(people []string, name string) []string {
	if slices.Contains(people, name) {
		return slices.DeleteFunc(slices.Clone(people), func(p string) bool { return p == name })
	}
	out := make([]string, 0, len(people)+1)
	out = append(out, people...)
	return append(out, name)
}
