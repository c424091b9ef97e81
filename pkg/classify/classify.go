// Package classify declares the boundary to the sender-classification
// service: a stateless request/response call that, given a batch of sender
// summaries, recommends a subset for deletion. The service shares no state
// with the aggregation core.
package classify

import "context"

// Sender is one candidate passed to the classifier.
type Sender struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Count   int64  `json:"count"`
	Subject string `json:"subject"`
}

// Classifier recommends senders for deletion.
type Classifier interface {
	// Recommend returns the subset of the batch recommended for deletion,
	// identified by address.
	Recommend(ctx context.Context, batch []Sender) ([]string, error)
}
