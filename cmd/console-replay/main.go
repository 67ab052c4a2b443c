// Command console-replay inspects and drains a console's offline scan queue.
//
//	console-replay [flags] status|dead|drain
//	console-replay [flags] enqueue -event ID -action NAME -user ID [-ref N] [-vest V] [-returned]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"checkpoint/internal/checkin/models"
	"checkpoint/internal/offline"
	"checkpoint/internal/platform/config"
	"checkpoint/internal/platform/logger"
	id "checkpoint/pkg/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, logger.NewWithWriter(os.Stderr, "info")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, log *slog.Logger) error {
	var cfg config.OfflineConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return err
	}

	fs := flag.NewFlagSet("console-replay", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.StringVar(&cfg.QueuePath, "queue", cfg.QueuePath, "path to the offline queue file")
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "checkpoint server base URL")
	fs.StringVar(&cfg.SessionToken, "token", cfg.SessionToken, "console session token")
	fs.StringVar(&cfg.CSRFToken, "csrf", cfg.CSRFToken, "console CSRF token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("a command is required: status, dead, drain or enqueue")
	}

	queue, err := offline.Open(ctx, cfg.QueuePath, offline.WithLogger(log))
	if err != nil {
		return err
	}
	defer queue.Close()

	switch cmd := fs.Arg(0); cmd {
	case "status":
		return status(ctx, queue, stdout)
	case "dead":
		return deadLetters(ctx, queue, stdout)
	case "drain":
		if cfg.SessionToken == "" || cfg.CSRFToken == "" {
			return errors.New("drain needs -token and -csrf from a console session")
		}
		transport := offline.NewHTTPTransport(cfg.ServerURL, cfg.SessionToken, cfg.CSRFToken)
		report, err := queue.Drain(ctx, transport)
		fmt.Fprintf(stdout, "delivered=%d rejected=%d remaining=%d\n", report.Delivered, report.Rejected, report.Remaining)
		return err
	case "enqueue":
		return enqueue(ctx, queue, fs.Args()[1:], stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func status(ctx context.Context, queue *offline.Queue, stdout io.Writer) error {
	items, err := queue.Pending(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d pending\n", len(items))
	if len(items) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTOKEN\tACTION\tUSER\tATTEMPTS\tLAST ERROR")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", it.Seq, it.Token, it.Scan.Action, it.Scan.UserID, it.Attempts, it.LastError)
	}
	return tw.Flush()
}

func deadLetters(ctx context.Context, queue *offline.Queue, stdout io.Writer) error {
	dead, err := queue.DeadLetters(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d rejected\n", len(dead))
	if len(dead) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tACTION\tUSER\tSTATUS\tCODE\tMESSAGE")
	for _, d := range dead {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", d.Token, d.Scan.Action, d.Scan.UserID, d.Status, d.Code, d.Message)
	}
	return tw.Flush()
}

func enqueue(ctx context.Context, queue *offline.Queue, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(stdout)
	eventID := fs.String("event", "", "event id")
	action := fs.String("action", "", "console action")
	userID := fs.String("user", "", "user id")
	ref := fs.String("ref", "", "reference number")
	vest := fs.String("vest", "", "vest number")
	returned := fs.Bool("returned", false, "vest returned")
	if err := fs.Parse(args); err != nil {
		return err
	}

	scan := offline.Scan{Action: models.Action(*action)}
	var err error
	if scan.EventID, err = id.ParseEventID(*eventID); err != nil {
		return err
	}
	if scan.UserID, err = id.ParseUserID(*userID); err != nil {
		return err
	}
	if *ref != "" {
		scan.ReferenceNumber = ref
	}
	if *vest != "" {
		scan.VestNumber = vest
	}
	if scan.Action == models.ActionVestCheckout {
		scan.VestReturned = returned
	}

	item, err := queue.Enqueue(ctx, scan)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "queued %s as #%d\n", item.Token, item.Seq)
	return nil
}
