package livesync

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/mmynk/receiptsync/internal/models"
)

// TempIDPrefix marks entries created locally that the server has not
// confirmed yet.
const TempIDPrefix = "pending-"

// Intent is a local edit to apply optimistically. The concrete types below
// are the only implementations.
type Intent interface {
	plan(g *models.Group) (*plan, error)
}

// plan is an intent resolved against a snapshot.
type plan struct {
	key  EntityKey
	next *models.Group
	send func(ctx context.Context, b Backend) (outcome, error)
}

// outcome is the server's view of the entity after a successful send. key
// differs from the plan's key only for created entries.
type outcome struct {
	key     EntityKey
	value   any
	present bool
	version models.Version
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidIntent, fmt.Sprintf(format, args...))
}

// ToggleAssignment adds Person to the entry's assignees, or removes them if
// already assigned.
type ToggleAssignment struct {
	EntryID string
	Person  string
}

func (i ToggleAssignment) plan(g *models.Group) (*plan, error) {
	e, _, ok := g.Entry(i.EntryID)
	if !ok {
		return nil, invalid("unknown entry %s", i.EntryID)
	}
	assigned := models.Toggle(e.AssignedTo, i.Person)
	return UpdateEntry{EntryID: i.EntryID, Patch: models.EntryPatch{AssignedTo: &assigned}}.plan(g)
}

type UpdateEntry struct {
	EntryID string
	Patch   models.EntryPatch
}

func (i UpdateEntry) plan(g *models.Group) (*plan, error) {
	e, _, ok := g.Entry(i.EntryID)
	if !ok {
		return nil, invalid("unknown entry %s", i.EntryID)
	}
	if isTemp(i.EntryID) {
		return nil, invalid("entry %s is not saved yet", i.EntryID)
	}
	next, _ := g.WithEntry(i.Patch.Apply(e))

	id, patch := i.EntryID, i.Patch
	return &plan{
		key:  EntityKey{Kind: EntityEntry, ID: id},
		next: next,
		send: func(ctx context.Context, b Backend) (outcome, error) {
			updated, v, err := b.UpdateEntry(ctx, id, patch)
			if err != nil {
				return outcome{}, err
			}
			return outcome{key: EntityKey{Kind: EntityEntry, ID: updated.ID}, value: *updated, present: true, version: v}, nil
		},
	}, nil
}

// AddEntry appends a new entry to a receipt. It shows up immediately under
// a temporary ID that is swapped for the server's on confirmation.
type AddEntry struct {
	ReceiptID string
	Entry     models.NewEntry
}

func (i AddEntry) plan(g *models.Group) (*plan, error) {
	if _, ok := g.Receipt(i.ReceiptID); !ok {
		return nil, invalid("unknown receipt %s", i.ReceiptID)
	}
	assigned := slices.Clone(i.Entry.AssignedTo)
	if assigned == nil {
		assigned = []string{}
	}
	temp := models.Entry{
		ID:         TempIDPrefix + uuid.NewString(),
		ReceiptID:  i.ReceiptID,
		Name:       i.Entry.Name,
		Price:      i.Entry.Price,
		Taxable:    i.Entry.Taxable,
		AssignedTo: assigned,
	}
	next, _ := g.WithEntry(temp)

	receiptID, in := i.ReceiptID, i.Entry
	return &plan{
		key:  EntityKey{Kind: EntityEntry, ID: temp.ID},
		next: next,
		send: func(ctx context.Context, b Backend) (outcome, error) {
			created, v, err := b.CreateEntry(ctx, receiptID, in)
			if err != nil {
				return outcome{}, err
			}
			return outcome{key: EntityKey{Kind: EntityEntry, ID: created.ID}, value: *created, present: true, version: v}, nil
		},
	}, nil
}

type DeleteEntry struct {
	EntryID string
}

func (i DeleteEntry) plan(g *models.Group) (*plan, error) {
	_, receiptID, ok := g.Entry(i.EntryID)
	if !ok {
		return nil, invalid("unknown entry %s", i.EntryID)
	}
	if isTemp(i.EntryID) {
		return nil, invalid("entry %s is not saved yet", i.EntryID)
	}
	key := EntityKey{Kind: EntityEntry, ID: i.EntryID}
	next := install(g, key, nil, false)

	id := i.EntryID
	return &plan{
		key:  key,
		next: next,
		send: func(ctx context.Context, b Backend) (outcome, error) {
			v, err := b.DeleteEntry(ctx, receiptID, id)
			if err != nil {
				return outcome{}, err
			}
			return outcome{key: key, version: v}, nil
		},
	}, nil
}

type SetProcessed struct {
	ReceiptID string
	Processed bool
}

func (i SetProcessed) plan(g *models.Group) (*plan, error) {
	return planReceipt(g, i.ReceiptID, models.ReceiptPatch{Processed: &i.Processed})
}

// SetPaidBy sets who paid for a receipt. An empty Person clears it.
type SetPaidBy struct {
	ReceiptID string
	Person    string
}

func (i SetPaidBy) plan(g *models.Group) (*plan, error) {
	return planReceipt(g, i.ReceiptID, models.ReceiptPatch{PaidBy: &i.Person})
}

// SetReceiptPeople replaces the people a receipt is split among.
type SetReceiptPeople struct {
	ReceiptID string
	People    []string
}

func (i SetReceiptPeople) plan(g *models.Group) (*plan, error) {
	people := slices.Clone(i.People)
	return planReceipt(g, i.ReceiptID, models.ReceiptPatch{People: &people})
}

func planReceipt(g *models.Group, receiptID string, patch models.ReceiptPatch) (*plan, error) {
	r, ok := g.Receipt(receiptID)
	if !ok {
		return nil, invalid("unknown receipt %s", receiptID)
	}
	next := g.WithReceipt(patch.Apply(r))

	return &plan{
		key:  EntityKey{Kind: EntityReceipt, ID: receiptID},
		next: next,
		send: func(ctx context.Context, b Backend) (outcome, error) {
			updated, v, err := b.UpdateReceipt(ctx, receiptID, patch)
			if err != nil {
				return outcome{}, err
			}
			return outcome{key: EntityKey{Kind: EntityReceipt, ID: updated.ID}, value: *updated, present: true, version: v}, nil
		},
	}, nil
}

// SetGroupPeople replaces the group's people. People removed from the group
// are also dropped from receipts that do not reference them.
type SetGroupPeople struct {
	People []string
}

func (i SetGroupPeople) plan(g *models.Group) (*plan, error) {
	people := slices.Clone(i.People)
	key := EntityKey{Kind: EntityGroup, ID: g.ID}
	next := install(g, key, groupHeader{Name: g.Name, People: people}, true)

	groupID := g.ID
	return &plan{
		key:  key,
		next: next,
		send: func(ctx context.Context, b Backend) (outcome, error) {
			updated, v, err := b.UpdateGroup(ctx, groupID, models.GroupPatch{People: &people})
			if err != nil {
				return outcome{}, err
			}
			return outcome{
				key:     key,
				value:   groupHeader{Name: updated.Name, People: updated.People},
				present: true,
				version: v,
			}, nil
		},
	}, nil
}

func isTemp(entryID string) bool {
	return strings.HasPrefix(entryID, TempIDPrefix)
}
