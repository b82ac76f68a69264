package models

import "slices"

// GroupPatch is a partial update of a group. Nil fields are left unchanged.
type GroupPatch struct {
	Name   *string   `json:"name,omitempty"`
	People *[]string `json:"people,omitempty"`
}

// ReceiptPatch is a partial update of a receipt. Nil fields are left unchanged.
// A non-nil PaidBy pointing at the empty string clears the payer.
type ReceiptPatch struct {
	Name      *string   `json:"name,omitempty"`
	Processed *bool     `json:"processed,omitempty"`
	PaidBy    *string   `json:"paid_by,omitempty"`
	People    *[]string `json:"people,omitempty"`
}

// EntryPatch is a partial update of an entry. Nil fields are left unchanged.
type EntryPatch struct {
	Name       *string   `json:"name,omitempty"`
	Price      *float64  `json:"price,omitempty"`
	Taxable    *bool     `json:"taxable,omitempty"`
	AssignedTo *[]string `json:"assigned_to,omitempty"`
}

// Apply returns a copy of g with the patch applied. Receipts are shared.
func (p GroupPatch) Apply(g *Group) *Group {
	out := *g
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.People != nil {
		out.People = slices.Clone(*p.People)
	}
	return &out
}

// Apply returns a copy of r with the patch applied. Entries are shared.
func (p ReceiptPatch) Apply(r Receipt) Receipt {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Processed != nil {
		r.Processed = *p.Processed
	}
	if p.PaidBy != nil {
		r.PaidBy = *p.PaidBy
	}
	if p.People != nil {
		r.People = slices.Clone(*p.People)
	}
	return r
}

// Apply returns a copy of e with the patch applied.
func (p EntryPatch) Apply(e Entry) Entry {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Price != nil {
		e.Price = *p.Price
	}
	if p.Taxable != nil {
		e.Taxable = *p.Taxable
	}
	if p.AssignedTo != nil {
		e.AssignedTo = slices.Clone(*p.AssignedTo)
	}
	return e
}

// NewGroup is the payload for creating a group.
type NewGroup struct {
	Name   string   `json:"name"`
	People []string `json:"people"`
}

// NewReceipt is the payload for creating a receipt with optional entries.
type NewReceipt struct {
	Name      string     `json:"name"`
	Processed bool       `json:"processed"`
	RawData   string     `json:"raw_data,omitempty"`
	PaidBy    string     `json:"paid_by,omitempty"`
	People    []string   `json:"people"`
	Entries   []NewEntry `json:"entries,omitempty"`
}

// NewEntry is the payload for creating an entry.
type NewEntry struct {
	Name       string   `json:"name"`
	Price      float64  `json:"price"`
	Taxable    bool     `json:"taxable"`
	AssignedTo []string `json:"assigned_to"`
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
