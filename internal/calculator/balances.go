package calculator

import (
	"cmp"
	"math"
	"slices"

	"github.com/mmynk/receiptsync/internal/models"
)

// SettleEpsilon is the smallest balance treated as non-zero.
const SettleEpsilon = 0.005

// BalanceStatus classifies a net balance for display.
type BalanceStatus int

const (
	Even BalanceStatus = iota
	Owes
	Owed
)

func (s BalanceStatus) String() string {
	switch s {
	case Owes:
		return "owes"
	case Owed:
		return "is owed"
	default:
		return "even"
	}
}

// Status classifies a net balance. Positive owes the group, negative is owed.
func Status(net float64) BalanceStatus {
	switch {
	case net > SettleEpsilon:
		return Owes
	case net < -SettleEpsilon:
		return Owed
	default:
		return Even
	}
}

// PersonBalance is one person's outstanding position in a group.
type PersonBalance struct {
	Name  string  `json:"name"`
	Share float64 `json:"share"` // Sum of this person's splits on unprocessed receipts
	Paid  float64 `json:"paid"`  // Sum of unprocessed receipt totals this person fronted
	Net   float64 `json:"net"`   // Share - Paid. Positive = owes the group
}

// Transfer is a suggested payment that settles part of the balances.
type Transfer struct {
	From   string  `json:"from"` // Person who owes
	To     string  `json:"to"`   // Person who is owed
	Amount float64 `json:"amount"`
}

// CombinedCosts computes every person's net outstanding balance.
//
// Every group person starts at zero. For each unprocessed receipt, each
// receipt person's split is added; the payer, if set, then has the full
// receipt total subtracted. Processed receipts are ignored entirely.
// Positive = owes the group, negative = is owed.
func (e Engine) CombinedCosts(group *models.Group) map[string]float64 {
	net := make(map[string]float64, len(group.People))
	for _, p := range group.People {
		net[p] = 0
	}
	for _, receipt := range group.Receipts {
		if receipt.Processed {
			continue
		}
		for person, cost := range e.ReceiptCosts(receipt, receipt.People) {
			net[person] += cost
		}
		if receipt.PaidBy != "" {
			net[receipt.PaidBy] -= e.ReceiptTotal(receipt)
		}
	}
	return net
}

// UnprocessedTotal sums the totals of all unprocessed receipts.
func (e Engine) UnprocessedTotal(group *models.Group) float64 {
	var total float64
	for _, receipt := range group.Receipts {
		if !receipt.Processed {
			total += e.ReceiptTotal(receipt)
		}
	}
	return total
}

// Summarize breaks the combined costs down per person, in group order.
// People who only appear on receipts follow, sorted by name.
func (e Engine) Summarize(group *models.Group) []PersonBalance {
	index := make(map[string]int, len(group.People))
	out := make([]PersonBalance, 0, len(group.People))
	row := func(name string) *PersonBalance {
		if i, ok := index[name]; ok {
			return &out[i]
		}
		index[name] = len(out)
		out = append(out, PersonBalance{Name: name})
		return &out[len(out)-1]
	}
	for _, p := range group.People {
		row(p)
	}
	known := len(out)

	for _, receipt := range group.Receipts {
		if receipt.Processed {
			continue
		}
		costs := e.ReceiptCosts(receipt, receipt.People)
		for _, p := range receipt.People {
			share := costs[p]
			row(p).Share += share
		}
		if receipt.PaidBy != "" {
			row(receipt.PaidBy).Paid += e.ReceiptTotal(receipt)
		}
	}

	for i := range out {
		out[i].Net = out[i].Share - out[i].Paid
	}
	slices.SortStableFunc(out[known:], func(a, b PersonBalance) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// SettleUp suggests transfers that bring every balance back to even.
//
// Debtors are matched greedily against creditors, largest first, so the
// number of transfers stays small. Balances within SettleEpsilon of zero
// are ignored. The order is deterministic for a given input.
func SettleUp(balances map[string]float64) []Transfer {
	type party struct {
		name   string
		amount float64
	}
	var debtors, creditors []party
	for name, net := range balances {
		switch Status(net) {
		case Owes:
			debtors = append(debtors, party{name, net})
		case Owed:
			creditors = append(creditors, party{name, -net})
		}
	}
	byAmount := func(a, b party) int {
		if c := cmp.Compare(b.amount, a.amount); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	}
	slices.SortFunc(debtors, byAmount)
	slices.SortFunc(creditors, byAmount)

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := math.Min(debtors[i].amount, creditors[j].amount)
		if amount > SettleEpsilon {
			transfers = append(transfers, Transfer{
				From:   debtors[i].name,
				To:     creditors[j].name,
				Amount: amount,
			})
		}

		debtors[i].amount -= amount
		creditors[j].amount -= amount

		if debtors[i].amount <= SettleEpsilon {
			i++
		}
		if creditors[j].amount <= SettleEpsilon {
			j++
		}
	}
	return transfers
}

// Report is a display-ready summary of a group's outstanding balances.
type Report struct {
	People           []PersonBalance `json:"people"`
	Transfers        []Transfer      `json:"transfers"`
	UnprocessedTotal float64         `json:"unprocessed_total"`
}

// Report summarizes per-person balances and settle-up transfers over the
// group's unprocessed receipts.
func (e Engine) Report(group *models.Group) Report {
	transfers := SettleUp(e.CombinedCosts(group))
	if transfers == nil {
		transfers = []Transfer{}
	}
	return Report{
		People:           e.Summarize(group),
		Transfers:        transfers,
		UnprocessedTotal: e.UnprocessedTotal(group),
	}
}
