package s3mail

import (
	"bufio"
	"io"
	"net/mail"

	"github.com/nwalden/mailscan/pkg/source"
)

// parseHeaders extracts the header fields the scan cares about from a raw
// RFC 822 message stream. A message whose header block cannot be parsed is
// returned with only its ID set; the normalizer skips it.
func parseHeaders(id string, r io.Reader) source.RawMessage {
	m, err := mail.ReadMessage(bufio.NewReader(r))
	if err != nil {
		return source.RawMessage{ID: id}
	}
	return source.RawMessage{
		ID:              id,
		From:            m.Header.Get("From"),
		Subject:         m.Header.Get("Subject"),
		Date:            m.Header.Get("Date"),
		ListUnsubscribe: m.Header.Get("List-Unsubscribe"),
	}
}
