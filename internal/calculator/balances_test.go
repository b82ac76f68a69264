package calculator

import (
	"math"
	"testing"

	"github.com/mmynk/receiptsync/internal/models"
)

func ledger() *models.Group {
	return &models.Group{
		ID:     "g1",
		People: []string{"A", "B", "C"},
		Receipts: []models.Receipt{
			{
				ID:      "r1",
				PaidBy:  "A",
				People:  []string{"A", "B"},
				Entries: []models.Entry{{ID: "e1", Price: 10, Taxable: true}},
			},
			{
				ID:        "r2",
				Processed: true,
				PaidBy:    "C",
				People:    []string{"A", "B", "C"},
				Entries:   []models.Entry{{ID: "e2", Price: 100}},
			},
			{
				ID:      "r3",
				People:  []string{"B", "C"},
				Entries: []models.Entry{{ID: "e3", Price: 6, AssignedTo: []string{"C"}}},
			},
		},
	}
}

func TestCombinedCosts(t *testing.T) {
	net := Default.CombinedCosts(ledger())

	want := map[string]float64{
		"A": 5.35 - 10.70, // own share minus the receipt they fronted
		"B": 5.35,
		"C": 6,
	}
	if len(net) != len(want) {
		t.Fatalf("expected %d balances, got %v", len(want), net)
	}
	for p, w := range want {
		if math.Abs(net[p]-w) > tolerance {
			t.Errorf("%s = %v, want %v", p, net[p], w)
		}
	}
}

func TestCombinedCosts_ProcessedIgnored(t *testing.T) {
	g := &models.Group{
		People: []string{"A", "B"},
		Receipts: []models.Receipt{{
			Processed: true,
			PaidBy:    "A",
			People:    []string{"A", "B"},
			Entries:   []models.Entry{{Price: 50, Taxable: true}},
		}},
	}
	for p, v := range Default.CombinedCosts(g) {
		if v != 0 {
			t.Errorf("%s = %v, want 0", p, v)
		}
	}
	if total := Default.UnprocessedTotal(g); total != 0 {
		t.Errorf("UnprocessedTotal = %v, want 0", total)
	}
}

func TestCombinedCosts_NoPayerNoPeople(t *testing.T) {
	g := &models.Group{
		People:   []string{"A"},
		Receipts: []models.Receipt{{Entries: []models.Entry{{Price: 3}}}},
	}
	net := Default.CombinedCosts(g)
	if len(net) != 1 || net["A"] != 0 {
		t.Errorf("unexpected balances %v", net)
	}
}

func TestUnprocessedTotal(t *testing.T) {
	if got := Default.UnprocessedTotal(ledger()); math.Abs(got-16.70) > tolerance {
		t.Errorf("UnprocessedTotal = %v, want 16.70", got)
	}
}

func TestSummarize(t *testing.T) {
	g := ledger()
	// Someone dropped from the group but still on an open receipt.
	g.People = []string{"C", "A"}

	rows := Default.Summarize(g)
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	if len(rows) != 3 || names[0] != "C" || names[1] != "A" || names[2] != "B" {
		t.Fatalf("row order = %v, want [C A B]", names)
	}

	a := rows[1]
	if math.Abs(a.Share-5.35) > tolerance || math.Abs(a.Paid-10.70) > tolerance {
		t.Errorf("A = %+v", a)
	}
	if math.Abs(a.Net-(a.Share-a.Paid)) > tolerance {
		t.Errorf("A net %v != share - paid", a.Net)
	}
	if Status(a.Net) != Owed {
		t.Errorf("A status = %v, want %v", Status(a.Net), Owed)
	}

	net := Default.CombinedCosts(ledger())
	for _, r := range Default.Summarize(ledger()) {
		if math.Abs(r.Net-net[r.Name]) > tolerance {
			t.Errorf("%s: summarize net %v, combined %v", r.Name, r.Net, net[r.Name])
		}
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		net  float64
		want BalanceStatus
	}{
		{0, Even},
		{0.004, Even},
		{-0.004, Even},
		{0.01, Owes},
		{-12, Owed},
	}
	for _, tt := range tests {
		if got := Status(tt.net); got != tt.want {
			t.Errorf("Status(%v) = %v, want %v", tt.net, got, tt.want)
		}
	}
	if Owes.String() != "owes" || Owed.String() != "is owed" || Even.String() != "even" {
		t.Error("unexpected status strings")
	}
}

func TestSettleUp(t *testing.T) {
	tests := []struct {
		name     string
		balances map[string]float64
		want     []Transfer
	}{
		{
			name:     "all even",
			balances: map[string]float64{"A": 0, "B": 0.001},
			want:     nil,
		},
		{
			name:     "one debtor one creditor",
			balances: map[string]float64{"A": -5.35, "B": 5.35},
			want:     []Transfer{{From: "B", To: "A", Amount: 5.35}},
		},
		{
			name:     "two debtors",
			balances: map[string]float64{"A": -30, "B": 20, "C": 10},
			want: []Transfer{
				{From: "B", To: "A", Amount: 20},
				{From: "C", To: "A", Amount: 10},
			},
		},
		{
			name:     "ties break by name",
			balances: map[string]float64{"A": -10, "B": -10, "C": 10, "D": 10},
			want: []Transfer{
				{From: "C", To: "A", Amount: 10},
				{From: "D", To: "B", Amount: 10},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SettleUp(tt.balances)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d transfers %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i].From != tt.want[i].From || got[i].To != tt.want[i].To ||
					math.Abs(got[i].Amount-tt.want[i].Amount) > tolerance {
					t.Errorf("transfer %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
