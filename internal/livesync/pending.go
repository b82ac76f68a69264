package livesync

import (
	"cmp"
	"slices"

	"github.com/mmynk/receiptsync/internal/models"
)

// EntityKind names the level of the ledger an intent touches.
type EntityKind int

const (
	EntityGroup EntityKind = iota
	EntityReceipt
	EntityEntry
)

// EntityKey identifies one entity in a group snapshot.
type EntityKey struct {
	Kind EntityKind
	ID   string
}

// groupHeader is the group-level state an intent can change.
type groupHeader struct {
	Name   string
	People []string
}

// lookup returns the entity's current value in g. Receipt values carry their
// entries, but install ignores them.
func lookup(g *models.Group, key EntityKey) (any, bool) {
	switch key.Kind {
	case EntityGroup:
		return groupHeader{Name: g.Name, People: g.People}, true
	case EntityReceipt:
		r, ok := g.Receipt(key.ID)
		return r, ok
	case EntityEntry:
		e, _, ok := g.Entry(key.ID)
		return e, ok
	}
	return nil, false
}

// install returns a copy of g with the entity set to value, or removed when
// present is false. A value whose parent is missing from g is dropped.
func install(g *models.Group, key EntityKey, value any, present bool) *models.Group {
	switch key.Kind {
	case EntityGroup:
		if !present {
			return g
		}
		h := value.(groupHeader)
		out := *g
		out.Name = h.Name
		out.People = slices.Clone(h.People)
		return pruneReceiptPeople(&out)

	case EntityReceipt:
		if !present {
			return g.WithoutReceipt(key.ID)
		}
		r := value.(models.Receipt)
		cur, ok := g.Receipt(key.ID)
		if !ok {
			return g
		}
		r.Entries = cur.Entries
		return g.WithReceipt(r)

	case EntityEntry:
		if !present {
			i, _, ok := g.FindEntry(key.ID)
			if !ok {
				return g
			}
			return g.WithReceipt(g.Receipts[i].WithoutEntry(key.ID))
		}
		out, _ := g.WithEntry(value.(models.Entry))
		return out
	}
	return g
}

// pruneReceiptPeople drops people no longer in the group from receipts that
// do not otherwise reference them, mirroring the service's cascade.
func pruneReceiptPeople(g *models.Group) *models.Group {
	out := g
	for _, r := range g.Receipts {
		keep := slices.DeleteFunc(slices.Clone(r.People), func(p string) bool {
			return !models.Contains(g.People, p) && !referenced(r, p)
		})
		if len(keep) != len(r.People) {
			r.People = keep
			out = out.WithReceipt(r)
		}
	}
	return out
}

func referenced(r models.Receipt, person string) bool {
	if r.PaidBy == person {
		return true
	}
	for _, e := range r.Entries {
		if models.Contains(e.AssignedTo, person) {
			return true
		}
	}
	return false
}

type pendingRecord struct {
	pre   any
	preOK bool
	ops   map[string]struct{}
}

// PendingTable tracks entities with unconfirmed local changes. For each it
// keeps the last canonical value (the pre-image) and the in-flight operation
// IDs. It is owned by the coordinator goroutine and is not safe for
// concurrent use.
type PendingTable struct {
	records map[EntityKey]*pendingRecord
}

func NewPendingTable() *PendingTable {
	return &PendingTable{records: make(map[EntityKey]*pendingRecord)}
}

// Add registers opID against key. The pre-image is only stored the first
// time; later operations on the same entity keep the original canonical
// value.
func (t *PendingTable) Add(key EntityKey, pre any, preOK bool, opID string) {
	rec, ok := t.records[key]
	if !ok {
		rec = &pendingRecord{pre: pre, preOK: preOK, ops: make(map[string]struct{})}
		t.records[key] = rec
	}
	rec.ops[opID] = struct{}{}
}

// Has reports whether key has unconfirmed operations.
func (t *PendingTable) Has(key EntityKey) bool {
	_, ok := t.records[key]
	return ok
}

// Complete removes opID from key. last is true when it was the entity's
// final in-flight operation; the record is then gone. tracked is false
// when the operation was not pending, for example after a rollback dropped
// the entity.
func (t *PendingTable) Complete(key EntityKey, opID string) (last, tracked bool) {
	rec, ok := t.records[key]
	if !ok {
		return false, false
	}
	if _, ok := rec.ops[opID]; !ok {
		return false, false
	}
	delete(rec.ops, opID)
	if len(rec.ops) == 0 {
		delete(t.records, key)
		return true, true
	}
	return false, true
}

// Drop removes key regardless of in-flight operations and returns its
// pre-image.
func (t *PendingTable) Drop(key EntityKey) (pre any, preOK, ok bool) {
	rec, ok := t.records[key]
	if !ok {
		return nil, false, false
	}
	delete(t.records, key)
	return rec.pre, rec.preOK, true
}

// Len returns the number of in-flight operations.
func (t *PendingTable) Len() int {
	n := 0
	for _, rec := range t.records {
		n += len(rec.ops)
	}
	return n
}

func (t *PendingTable) Clear() {
	clear(t.records)
}

// Rebase lays the optimistic values held in current over the canonical
// snapshot fresh, and adopts fresh's values as the new pre-images.
// Group-level entries go first so receipt and entry values land on top.
func (t *PendingTable) Rebase(fresh, current *models.Group) *models.Group {
	if len(t.records) == 0 {
		return fresh
	}
	out := fresh
	for _, k := range t.keys() {
		rec := t.records[k]
		rec.pre, rec.preOK = lookup(fresh, k)
		opt, optOK := lookup(current, k)
		out = install(out, k, opt, optOK)
	}
	return out
}

// RebaseReceipt is Rebase for a single refetched receipt: only pending
// entities inside it are laid over.
func (t *PendingTable) RebaseReceipt(fresh models.Receipt, current *models.Group) models.Receipt {
	if rec, ok := t.records[EntityKey{Kind: EntityReceipt, ID: fresh.ID}]; ok {
		rec.pre, rec.preOK = fresh, true
		if opt, ok := current.Receipt(fresh.ID); ok {
			entries := fresh.Entries
			fresh = opt
			fresh.Entries = entries
		}
	}
	for _, k := range t.keys() {
		if k.Kind != EntityEntry {
			continue
		}
		rec := t.records[k]
		opt, _, optOK := current.Entry(k.ID)
		idx := fresh.EntryIndex(k.ID)
		switch {
		case idx >= 0:
			rec.pre, rec.preOK = fresh.Entries[idx], true
		case optOK && opt.ReceiptID == fresh.ID:
			rec.pre, rec.preOK = nil, false
		default:
			continue
		}
		if optOK {
			fresh = fresh.WithEntry(opt)
		} else {
			fresh = fresh.WithoutEntry(k.ID)
		}
	}
	return fresh
}

// keys returns pending keys ordered by kind, then ID.
func (t *PendingTable) keys() []EntityKey {
	keys := make([]EntityKey, 0, len(t.records))
	for k := range t.records {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b EntityKey) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return keys
}
