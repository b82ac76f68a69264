package gateway

import (
	"slices"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/livesync"
	"github.com/mmynk/receiptsync/internal/models"
)

// ViewEvent types.
const (
	EventAttached    = "attached"
	EventRefreshed   = "refreshed"
	EventHighlighted = "highlighted"
	EventErrored     = "errored"
	EventState       = "state"
)

type WatchRequest struct {
	GroupID string `json:"group_id"`
}

// ViewEvent is one message on a Watch stream. Type selects which of the
// other fields are set.
type ViewEvent struct {
	Type   string `json:"type"`
	ViewID string `json:"view_id,omitempty"`

	// refreshed
	Snapshot *models.Group      `json:"snapshot,omitempty"`
	Balances *calculator.Report `json:"balances,omitempty"`
	Reason   string             `json:"reason,omitempty"`

	// highlighted
	EntryID   string `json:"entry_id,omitempty"`
	ReceiptID string `json:"receipt_id,omitempty"`

	// errored
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`

	// state
	State string `json:"state,omitempty"`
}

// Ack is the empty reply to every unary call.
type Ack struct{}

// intentRequest is a unary request that applies one intent to a view.
type intentRequest interface {
	GetViewID() string
	Intent() livesync.Intent
}

type ToggleAssignmentRequest struct {
	ViewID  string `json:"view_id"`
	EntryID string `json:"entry_id"`
	Person  string `json:"person"`
}

func (r ToggleAssignmentRequest) GetViewID() string { return r.ViewID }

func (r ToggleAssignmentRequest) Intent() livesync.Intent {
	return livesync.ToggleAssignment{EntryID: r.EntryID, Person: r.Person}
}

// UpdateEntryRequest changes the non-nil fields of an entry.
type UpdateEntryRequest struct {
	ViewID     string    `json:"view_id"`
	EntryID    string    `json:"entry_id"`
	Name       *string   `json:"name,omitempty"`
	Price      *float64  `json:"price,omitempty"`
	Taxable    *bool     `json:"taxable,omitempty"`
	AssignedTo *[]string `json:"assigned_to,omitempty"`
}

func (r UpdateEntryRequest) GetViewID() string { return r.ViewID }

func (r UpdateEntryRequest) Intent() livesync.Intent {
	return livesync.UpdateEntry{EntryID: r.EntryID, Patch: models.EntryPatch{
		Name:       r.Name,
		Price:      r.Price,
		Taxable:    r.Taxable,
		AssignedTo: r.AssignedTo,
	}}
}

type AddEntryRequest struct {
	ViewID     string   `json:"view_id"`
	ReceiptID  string   `json:"receipt_id"`
	Name       string   `json:"name"`
	Price      float64  `json:"price"`
	Taxable    bool     `json:"taxable"`
	AssignedTo []string `json:"assigned_to"`
}

func (r AddEntryRequest) GetViewID() string { return r.ViewID }

func (r AddEntryRequest) Intent() livesync.Intent {
	return livesync.AddEntry{ReceiptID: r.ReceiptID, Entry: models.NewEntry{
		Name:       r.Name,
		Price:      r.Price,
		Taxable:    r.Taxable,
		AssignedTo: slices.Clone(r.AssignedTo),
	}}
}

type DeleteEntryRequest struct {
	ViewID  string `json:"view_id"`
	EntryID string `json:"entry_id"`
}

func (r DeleteEntryRequest) GetViewID() string { return r.ViewID }

func (r DeleteEntryRequest) Intent() livesync.Intent {
	return livesync.DeleteEntry{EntryID: r.EntryID}
}

type SetProcessedRequest struct {
	ViewID    string `json:"view_id"`
	ReceiptID string `json:"receipt_id"`
	Processed bool   `json:"processed"`
}

func (r SetProcessedRequest) GetViewID() string { return r.ViewID }

func (r SetProcessedRequest) Intent() livesync.Intent {
	return livesync.SetProcessed{ReceiptID: r.ReceiptID, Processed: r.Processed}
}

// SetPaidByRequest sets the payer. An empty Person clears it.
type SetPaidByRequest struct {
	ViewID    string `json:"view_id"`
	ReceiptID string `json:"receipt_id"`
	Person    string `json:"person"`
}

func (r SetPaidByRequest) GetViewID() string { return r.ViewID }

func (r SetPaidByRequest) Intent() livesync.Intent {
	return livesync.SetPaidBy{ReceiptID: r.ReceiptID, Person: r.Person}
}

type SetReceiptPeopleRequest struct {
	ViewID    string   `json:"view_id"`
	ReceiptID string   `json:"receipt_id"`
	People    []string `json:"people"`
}

func (r SetReceiptPeopleRequest) GetViewID() string { return r.ViewID }

func (r SetReceiptPeopleRequest) Intent() livesync.Intent {
	return livesync.SetReceiptPeople{ReceiptID: r.ReceiptID, People: slices.Clone(r.People)}
}

type SetGroupPeopleRequest struct {
	ViewID string   `json:"view_id"`
	People []string `json:"people"`
}

func (r SetGroupPeopleRequest) GetViewID() string { return r.ViewID }

func (r SetGroupPeopleRequest) Intent() livesync.Intent {
	return livesync.SetGroupPeople{People: slices.Clone(r.People)}
}

type RefreshRequest struct {
	ViewID string `json:"view_id"`
}

func (r RefreshRequest) GetViewID() string { return r.ViewID }

type SetVisibleRequest struct {
	ViewID  string `json:"view_id"`
	Visible bool   `json:"visible"`
}

func (r SetVisibleRequest) GetViewID() string { return r.ViewID }
