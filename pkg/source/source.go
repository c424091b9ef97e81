// Package source defines the paginated message source consumed by the scan
// driver. A Source serves stable offset/limit windows over a message corpus;
// an empty page signals exhaustion at that offset.
package source

import "context"

// RawMessage is one unparsed message as returned by a Source. Fields are
// raw header values; normalization happens in mailparse.
type RawMessage struct {
	// ID is a source-specific identifier (S3 key, IMAP UID), used only for
	// diagnostics.
	ID string

	// From is the raw originator header value, free text.
	From string

	// Subject is the raw subject header value, possibly empty.
	Subject string

	// Date is the raw date header value.
	Date string

	// ListUnsubscribe is the raw List-Unsubscribe header value, possibly
	// empty. Comma-separated <...> tokens.
	ListUnsubscribe string
}

// Source is a paginated message source. Offsets index a listing that is
// stable for the duration of a scan; pages at or past the end are empty.
type Source interface {
	// Search returns up to limit messages starting at offset, filtered by
	// query. An empty slice (and nil error) means the corpus is exhausted
	// at that offset.
	Search(ctx context.Context, query string, offset, limit int) ([]RawMessage, error)

	// FetchPages is the bulk variant of Search: it fetches the pages that
	// start at each of the given offsets, all with the same limit, and
	// returns them in offset order. Semantically equivalent to calling
	// Search once per offset.
	FetchPages(ctx context.Context, query string, offsets []int, limit int) ([][]RawMessage, error)
}
