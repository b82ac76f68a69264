package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmynk/receiptsync/internal/gateway"
	"github.com/mmynk/receiptsync/internal/models"
)

var errQuit = errors.New("quit")

const help = `commands:
  toggle <entry> <person>        assign or unassign a person
  price <entry> <amount>         change an entry's price
  add <receipt> <price> <name>   add an entry
  del <entry>                    delete an entry
  paid <receipt> [person]        set or clear who paid
  processed <receipt> yes|no     mark a receipt settled
  split <receipt> <a,b,...>      set the receipt's people
  people <a,b,...>               set the group's people
  refresh | hide | show | help | quit
IDs may be shortened to any unique prefix.`

// viewAPI is the part of the gateway client the viewer uses.
type viewAPI interface {
	ToggleAssignment(ctx context.Context, req *gateway.ToggleAssignmentRequest) error
	UpdateEntry(ctx context.Context, req *gateway.UpdateEntryRequest) error
	AddEntry(ctx context.Context, req *gateway.AddEntryRequest) error
	DeleteEntry(ctx context.Context, req *gateway.DeleteEntryRequest) error
	SetProcessed(ctx context.Context, req *gateway.SetProcessedRequest) error
	SetPaidBy(ctx context.Context, req *gateway.SetPaidByRequest) error
	SetReceiptPeople(ctx context.Context, req *gateway.SetReceiptPeopleRequest) error
	SetGroupPeople(ctx context.Context, req *gateway.SetGroupPeopleRequest) error
	Refresh(ctx context.Context, req *gateway.RefreshRequest) error
	SetVisible(ctx context.Context, req *gateway.SetVisibleRequest) error
}

var _ viewAPI = (*gateway.Client)(nil)

// run parses one input line and issues the matching call against the view.
// snapshot resolves ID prefixes and may be nil before the first refresh.
func run(ctx context.Context, api viewAPI, viewID string, snapshot *models.Group, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected %d arguments, see help", cmd, n)
		}
		return nil
	}

	switch cmd {
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Println(help)
		return nil
	case "refresh":
		return api.Refresh(ctx, &gateway.RefreshRequest{ViewID: viewID})
	case "hide", "show":
		return api.SetVisible(ctx, &gateway.SetVisibleRequest{ViewID: viewID, Visible: cmd == "show"})
	}

	if snapshot == nil {
		return errors.New("no snapshot yet")
	}

	switch cmd {
	case "toggle":
		if err := need(2); err != nil {
			return err
		}
		entryID, err := resolveEntry(snapshot, args[0])
		if err != nil {
			return err
		}
		return api.ToggleAssignment(ctx, &gateway.ToggleAssignmentRequest{ViewID: viewID, EntryID: entryID, Person: args[1]})

	case "price":
		if err := need(2); err != nil {
			return err
		}
		entryID, err := resolveEntry(snapshot, args[0])
		if err != nil {
			return err
		}
		price, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		return api.UpdateEntry(ctx, &gateway.UpdateEntryRequest{ViewID: viewID, EntryID: entryID, Price: &price})

	case "add":
		if err := need(3); err != nil {
			return err
		}
		receiptID, err := resolveReceipt(snapshot, args[0])
		if err != nil {
			return err
		}
		price, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("add: %w", err)
		}
		return api.AddEntry(ctx, &gateway.AddEntryRequest{
			ViewID:    viewID,
			ReceiptID: receiptID,
			Name:      strings.Join(args[2:], " "),
			Price:     price,
			Taxable:   true,
		})

	case "del":
		if err := need(1); err != nil {
			return err
		}
		entryID, err := resolveEntry(snapshot, args[0])
		if err != nil {
			return err
		}
		return api.DeleteEntry(ctx, &gateway.DeleteEntryRequest{ViewID: viewID, EntryID: entryID})

	case "paid":
		if err := need(1); err != nil {
			return err
		}
		receiptID, err := resolveReceipt(snapshot, args[0])
		if err != nil {
			return err
		}
		person := ""
		if len(args) > 1 {
			person = args[1]
		}
		return api.SetPaidBy(ctx, &gateway.SetPaidByRequest{ViewID: viewID, ReceiptID: receiptID, Person: person})

	case "processed":
		if err := need(2); err != nil {
			return err
		}
		receiptID, err := resolveReceipt(snapshot, args[0])
		if err != nil {
			return err
		}
		var processed bool
		switch strings.ToLower(args[1]) {
		case "yes", "y", "true":
			processed = true
		case "no", "n", "false":
		default:
			return fmt.Errorf("processed: want yes or no, got %q", args[1])
		}
		return api.SetProcessed(ctx, &gateway.SetProcessedRequest{ViewID: viewID, ReceiptID: receiptID, Processed: processed})

	case "split":
		if err := need(2); err != nil {
			return err
		}
		receiptID, err := resolveReceipt(snapshot, args[0])
		if err != nil {
			return err
		}
		return api.SetReceiptPeople(ctx, &gateway.SetReceiptPeopleRequest{ViewID: viewID, ReceiptID: receiptID, People: splitNames(args[1])})

	case "people":
		if err := need(1); err != nil {
			return err
		}
		return api.SetGroupPeople(ctx, &gateway.SetGroupPeopleRequest{ViewID: viewID, People: splitNames(args[0])})
	}

	return fmt.Errorf("unknown command %q, see help", cmd)
}

func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func resolveEntry(g *models.Group, prefix string) (string, error) {
	var ids []string
	for _, r := range g.Receipts {
		for _, e := range r.Entries {
			ids = append(ids, e.ID)
		}
	}
	return resolve("entry", ids, prefix)
}

func resolveReceipt(g *models.Group, prefix string) (string, error) {
	ids := make([]string, 0, len(g.Receipts))
	for _, r := range g.Receipts {
		ids = append(ids, r.ID)
	}
	return resolve("receipt", ids, prefix)
}

// resolve finds the one ID starting with prefix. An exact match wins.
func resolve(what string, ids []string, prefix string) (string, error) {
	var found []string
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no %s matches %q", what, prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%q is ambiguous: %d %s IDs match", prefix, len(found), what)
	}
}
