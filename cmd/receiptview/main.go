// Command receiptview is a terminal group view. It watches one group through
// the view gateway, prints every refresh with its balances and sends edits
// typed on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/gateway"
	"github.com/mmynk/receiptsync/internal/models"
	"github.com/mmynk/receiptsync/pkg/logging"
)

func main() {
	addr := flag.String("gateway", "http://localhost:8090", "view gateway URL")
	groupID := flag.String("group", "", "group to watch")
	taxRate := flag.Float64("tax", calculator.DefaultTaxRate, "tax rate used to display entry prices")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logging.Setup(*level)
	if *groupID == "" {
		fmt.Fprintln(os.Stderr, "usage: receiptview -group <id> [-gateway URL]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := view(ctx, gateway.NewClient(nil, *addr), *groupID, calculator.New(*taxRate)); err != nil {
		slog.Error("View failed", "error", err)
		os.Exit(1)
	}
}

func view(ctx context.Context, cli *gateway.Client, groupID string, engine calculator.Engine) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := cli.Watch(ctx, groupID)
	if err != nil {
		return err
	}
	defer stream.Close()

	var (
		mu        sync.Mutex
		viewID    string
		snapshot  *models.Group
		highlight string
		ready     = make(chan struct{})
	)

	go func() {
		defer cancel()
		for stream.Receive() {
			ev := stream.Msg()
			mu.Lock()
			switch ev.Type {
			case gateway.EventAttached:
				viewID = ev.ViewID
				close(ready)
			case gateway.EventRefreshed:
				snapshot = ev.Snapshot
				if highlight != "" && !keepsEntry(snapshot, highlight) {
					highlight = ""
				}
				render(os.Stdout, *ev, engine, highlight)
			case gateway.EventHighlighted:
				highlight = ev.EntryID
			}
			mu.Unlock()
			if line := describe(*ev); line != "" {
				fmt.Println(line)
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "stream closed:", err)
		}
	}()

	select {
	case <-ready:
	case <-ctx.Done():
		return stream.Err()
	}
	fmt.Println(`type "help" for commands`)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			mu.Lock()
			id, g := viewID, snapshot
			mu.Unlock()

			err := run(ctx, cli, id, g, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
}
