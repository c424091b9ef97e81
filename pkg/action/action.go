// Package action declares the boundary to the unsubscribe/delete executor.
// The executor runs outside this module; the aggregation core only promises
// that the fields the executor owns (act flag, notes, processed timestamp)
// survive merges untouched.
package action

import (
	"context"

	"github.com/nwalden/mailscan/pkg/senderdb"
)

// Outcome is what the executor reports back for one sender. The executor
// writes these fields through its own channel; the scan never does.
type Outcome struct {
	Key         string
	ActFlag     bool
	Notes       string
	ProcessedAt string
}

// Executor consumes sender rows flagged for action and produces outcomes.
type Executor interface {
	// Execute acts on the given senders (unsubscribe, delete, or both,
	// per the executor's policy) and returns one outcome per sender it
	// actually touched.
	Execute(ctx context.Context, targets []senderdb.Row) ([]Outcome, error)
}
