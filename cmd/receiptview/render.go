package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/gateway"
	"github.com/mmynk/receiptsync/internal/models"
)

const shortID = 8

func short(id string) string {
	if len(id) <= shortID {
		return id
	}
	return id[:shortID]
}

// render prints the snapshot and its balances. highlight marks an entry
// another client just changed.
func render(w io.Writer, ev gateway.ViewEvent, engine calculator.Engine, highlight string) {
	g := ev.Snapshot
	fmt.Fprintf(w, "\n== %s (%s)  people: %s  [%s]\n", g.Name, short(g.ID), strings.Join(g.People, ", "), ev.Reason)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range g.Receipts {
		status := "open"
		if r.Processed {
			status = "processed"
		}
		payer := r.PaidBy
		if payer == "" {
			payer = "-"
		}
		fmt.Fprintf(tw, "\n%s\t%s\t%s\tpaid by %s\t%.2f\n", short(r.ID), r.Name, status, payer, engine.ReceiptTotal(r))
		for _, e := range r.Entries {
			mark := " "
			if e.ID == highlight {
				mark = "*"
			}
			assigned := "everyone"
			if len(e.AssignedTo) > 0 {
				assigned = strings.Join(e.AssignedTo, ",")
			}
			fmt.Fprintf(tw, "%s %s\t%s\t%.2f\t%s\t\n", mark, short(e.ID), e.Name, engine.EntryPrice(e), assigned)
		}
	}
	tw.Flush()

	if ev.Balances != nil {
		renderBalances(w, *ev.Balances)
	}
}

func renderBalances(w io.Writer, report calculator.Report) {
	fmt.Fprintf(w, "\nOutstanding: %.2f\n", report.UnprocessedTotal)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range report.People {
		fmt.Fprintf(tw, "  %s\t%s\t%.2f\n", p.Name, calculator.Status(p.Net), p.Net)
	}
	tw.Flush()
	for _, t := range report.Transfers {
		fmt.Fprintf(w, "  %s -> %s: %.2f\n", t.From, t.To, t.Amount)
	}
}

// describe renders the non-snapshot events as one status line.
func describe(ev gateway.ViewEvent) string {
	switch ev.Type {
	case gateway.EventAttached:
		return "view " + ev.ViewID + " opened"
	case gateway.EventHighlighted:
		return "entry " + short(ev.EntryID) + " changed by someone else"
	case gateway.EventErrored:
		return fmt.Sprintf("error (%s): %s", ev.Kind, ev.Message)
	case gateway.EventState:
		return "state: " + ev.State
	}
	return ""
}

// keepsEntry reports whether the highlighted entry is still in g.
func keepsEntry(g *models.Group, entryID string) bool {
	_, _, ok := g.Entry(entryID)
	return ok
}
