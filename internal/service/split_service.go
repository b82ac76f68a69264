package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/models"
	"github.com/mmynk/receiptsync/internal/storage"
)

// Balances is the body of GET /groups/{id}/balances.
type Balances struct {
	GroupID string         `json:"group_id"`
	Version models.Version `json:"version"`
	calculator.Report
}

// ComputeBalances summarizes a group's outstanding debts.
func ComputeBalances(engine calculator.Engine, group *models.Group) Balances {
	return Balances{
		GroupID: group.ID,
		Version: group.Version,
		Report:  engine.Report(group),
	}
}

// getBalances computes per-person balances and settle-up suggestions over
// the group's unprocessed receipts.
func (s *LedgerService) getBalances(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	group, err := s.store.GetGroup(r.Context(), groupID)
	if err != nil {
		s.fail(w, "GetBalances", err, "group_id", groupID)
		return
	}

	b := ComputeBalances(s.engine, group)
	for _, p := range b.People {
		s.logger.Debug("Person balance",
			"group_id", groupID,
			"person", p.Name,
			"share", p.Share,
			"paid", p.Paid,
			"net", p.Net,
		)
	}
	writeJSON(w, http.StatusOK, b)
}

// createSampleData seeds a demo group.
func (s *LedgerService) createSampleData(w http.ResponseWriter, r *http.Request) {
	group, err := Seed(r.Context(), s.store)
	if err != nil {
		s.fail(w, "CreateSampleData", err)
		return
	}
	s.logger.Info("Sample data created", "group_id", group.ID, "receipts", len(group.Receipts))
	writeMutation(w, http.StatusCreated, group.Version, group)
}

type sampleReceipt struct {
	name    string
	rawData string
	paidBy  string
	items   []models.NewEntry
}

var samplePeople = []string{"William", "Hao", "Howard"}

var sampleReceipts = []sampleReceipt{
	{
		name:    "Whole Foods Market",
		rawData: "Grocery shopping receipt with organic produce",
		paidBy:  "William",
		items: []models.NewEntry{
			{Name: "Organic Apples", Price: 5.99, Taxable: true},
			{Name: "Bananas", Price: 3.50, Taxable: true},
			{Name: "Sourdough Bread", Price: 4.99},
			{Name: "Almond Milk", Price: 4.25},
		},
	},
	{
		name:    "Starbucks Coffee",
		rawData: "Coffee and pastries for the team",
		paidBy:  "Hao",
		items: []models.NewEntry{
			{Name: "Large Latte", Price: 5.45, Taxable: true},
			{Name: "Cappuccino", Price: 4.95, Taxable: true},
			{Name: "Blueberry Muffin", Price: 3.25, Taxable: true},
		},
	},
	{
		name:    "Pizza Palace",
		rawData: "Team lunch - large pepperoni pizza",
		paidBy:  "Howard",
		items: []models.NewEntry{
			{Name: "Large Pepperoni Pizza", Price: 18.99, Taxable: true},
			{Name: "Garlic Bread", Price: 6.99, Taxable: true},
			{Name: "2L Coca Cola", Price: 3.99, Taxable: true},
		},
	},
}

// Seed creates a sample group of three people with three unassigned receipts.
func Seed(ctx context.Context, store storage.Store) (*models.Group, error) {
	group, err := store.CreateGroup(ctx, models.NewGroup{Name: "Sample Group", People: samplePeople})
	if err != nil {
		return nil, fmt.Errorf("failed to create sample group: %w", err)
	}
	for _, sr := range sampleReceipts {
		_, _, err := store.CreateReceipt(ctx, group.ID, models.NewReceipt{
			Name:    sr.name,
			RawData: sr.rawData,
			PaidBy:  sr.paidBy,
			People:  samplePeople,
			Entries: sr.items,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sample receipt %q: %w", sr.name, err)
		}
	}
	return store.GetGroup(ctx, group.ID)
}
