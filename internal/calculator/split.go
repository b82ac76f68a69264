// Package calculator allocates receipt costs to people.
//
// Every function is pure: no I/O, no state, no errors. Degenerate inputs
// (no people, entries assigned only to absent people) produce defined
// fallback values instead of NaN.
package calculator

import "github.com/mmynk/receiptsync/internal/models"

// DefaultTaxRate is applied to taxable entries unless configured otherwise.
const DefaultTaxRate = 0.07

// Engine computes totals and splits with a fixed tax rate.
type Engine struct {
	TaxRate float64
}

// Default is an Engine using DefaultTaxRate.
var Default = Engine{TaxRate: DefaultTaxRate}

// New creates an Engine with the given tax rate (e.g. 0.07 for 7%).
func New(taxRate float64) Engine {
	return Engine{TaxRate: taxRate}
}

// EntryPrice returns the entry's price including tax when taxable.
func (e Engine) EntryPrice(entry models.Entry) float64 {
	if entry.Taxable {
		return entry.Price * (1 + e.TaxRate)
	}
	return entry.Price
}

// ReceiptTotal sums the taxed price of every entry.
func (e Engine) ReceiptTotal(receipt models.Receipt) float64 {
	var total float64
	for _, entry := range receipt.Entries {
		total += e.EntryPrice(entry)
	}
	return total
}

// ReceiptCosts computes how much each of people owes for the receipt.
//
// An entry with no assignees is split evenly across all of people. An entry
// with assignees is split evenly across the assignees present in people;
// assignees outside people are ignored, and if none are present the entry
// contributes nothing. Membership is not validated against the receipt.
//
// Every name in people gets a key, even at zero. An empty people list yields
// an empty map.
func (e Engine) ReceiptCosts(receipt models.Receipt, people []string) map[string]float64 {
	costs := make(map[string]float64, len(people))
	if len(people) == 0 {
		return costs
	}
	for _, p := range people {
		costs[p] = 0
	}

	for _, entry := range receipt.Entries {
		price := e.EntryPrice(entry)

		if len(entry.AssignedTo) == 0 {
			share := price / float64(len(costs))
			for p := range costs {
				costs[p] += share
			}
			continue
		}

		present := 0
		for _, p := range entry.AssignedTo {
			if _, ok := costs[p]; ok {
				present++
			}
		}
		if present == 0 {
			continue
		}
		share := price / float64(present)
		for _, p := range entry.AssignedTo {
			if _, ok := costs[p]; ok {
				costs[p] += share
			}
		}
	}

	return costs
}
