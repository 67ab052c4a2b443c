package offline

import (
	"context"
	"fmt"
)

// Delivery is the server's definitive answer for one item. Applied and
// replayed items come back with Rejected false.
type Delivery struct {
	Status   int
	Rejected bool
	Code     string
	Message  string
}

// Transport sends one item to the server. An error means the item was not
// definitively answered and must stay at the head of the queue.
type Transport interface {
	Deliver(ctx context.Context, item Item) (*Delivery, error)
}

// Report summarises one drain.
type Report struct {
	Delivered int
	Rejected  int
	Remaining int
}

// Drain replays queued items oldest first, waiting for each answer before
// sending the next. It stops at the first transport error and leaves that item
// at the head; a later Drain resumes from it with the same token.
func (q *Queue) Drain(ctx context.Context, transport Transport) (Report, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var report Report
	for {
		if err := ctx.Err(); err != nil {
			return q.finish(ctx, report), err
		}
		item, err := q.head(ctx)
		if err != nil {
			return q.finish(ctx, report), err
		}
		if item == nil {
			return report, nil
		}

		delivery, err := transport.Deliver(ctx, *item)
		if err != nil {
			if markErr := q.markAttempt(ctx, item.Seq, err); markErr != nil {
				q.logger.ErrorContext(ctx, "failed to record delivery attempt", "token", item.Token, "error", markErr)
			}
			q.logger.WarnContext(ctx, "offline drain stopped",
				"token", item.Token,
				"action", string(item.Scan.Action),
				"error", err,
			)
			return q.finish(ctx, report), fmt.Errorf("deliver %s: %w", item.Token, err)
		}

		if delivery.Rejected {
			if err := q.deadLetter(ctx, item, delivery); err != nil {
				return q.finish(ctx, report), err
			}
			report.Rejected++
			q.logger.WarnContext(ctx, "offline scan rejected",
				"token", item.Token,
				"action", string(item.Scan.Action),
				"status", delivery.Status,
				"code", delivery.Code,
			)
			continue
		}

		if err := q.remove(ctx, item.Seq); err != nil {
			return q.finish(ctx, report), err
		}
		report.Delivered++
		q.logger.InfoContext(ctx, "offline scan delivered",
			"token", item.Token,
			"action", string(item.Scan.Action),
		)
	}
}

func (q *Queue) finish(ctx context.Context, report Report) Report {
	if n, err := q.Len(context.WithoutCancel(ctx)); err == nil {
		report.Remaining = n
	}
	return report
}

func (q *Queue) markAttempt(ctx context.Context, seq int64, cause error) error {
	_, err := q.db.ExecContext(context.WithoutCancel(ctx),
		`UPDATE queue_items SET attempts = attempts + 1, last_error = ? WHERE seq = ?`,
		cause.Error(), seq)
	return err
}

func (q *Queue) remove(ctx context.Context, seq int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queue_items WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("remove delivered item: %w", err)
	}
	return nil
}

// deadLetter moves item out of the queue and into dead_letters atomically.
func (q *Queue) deadLetter(ctx context.Context, item *Item, d *Delivery) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead letter: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO dead_letters (token, seq, event_id, payload, status, code, message, enqueued_at, rejected_at)
SELECT token, seq, event_id, payload, ?, ?, ?, enqueued_at, ?
FROM queue_items WHERE seq = ?`,
		d.Status, d.Code, d.Message, q.now().UTC().UnixMilli(), item.Seq); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE seq = ?`, item.Seq); err != nil {
		return fmt.Errorf("remove rejected item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dead letter: %w", err)
	}
	return nil
}
