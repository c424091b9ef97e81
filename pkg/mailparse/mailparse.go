// Package mailparse normalizes raw message headers into aggregation records.
//
// The originator field of real-world mail is free text: quoted display
// names, bare addresses, addresses wrapped in parens, or garbage. The
// parser tries the angle-bracket form first and falls back to extracting
// the first address-looking substring; messages with no address at all are
// skipped rather than failing the page.
package mailparse

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nwalden/mailscan/pkg/source"
)

// Record is one normalized message ready for aggregation.
type Record struct {
	// Key is the case-folded sender address, the aggregation key.
	Key string

	// DisplayAddress is the sender address as written.
	DisplayAddress string

	// DisplayName is the originator display name, possibly empty.
	DisplayName string

	// Subject is the raw subject, possibly empty.
	Subject string

	// Timestamp is the message date normalized to RFC 3339 UTC, or empty
	// if the date header was missing or unparsable. RFC 3339 strings
	// compare correctly as strings.
	Timestamp string

	// UnsubURL is the first http(s) unsubscribe target, possibly empty.
	UnsubURL string

	// UnsubMailto is the first mailto unsubscribe target, possibly empty.
	UnsubMailto string
}

// identity is a parsed originator, cached per raw From value.
type identity struct {
	addr string
	name string
	ok   bool
}

// DefaultIdentityCacheSize bounds the originator cache. Senders repeat
// heavily in any real mailbox, so even a small cache removes most of the
// regexp work from the hot path.
const DefaultIdentityCacheSize = 4096

// Parser normalizes raw messages. Safe for use from a single scan cycle;
// the identity cache is internally synchronized by golang-lru.
type Parser struct {
	identities *lru.Cache[string, identity]
}

// NewParser creates a parser with the default identity cache size.
func NewParser() *Parser {
	cache, err := lru.New[string, identity](DefaultIdentityCacheSize)
	if err != nil {
		// lru.New only fails on non-positive size.
		panic(err)
	}
	return &Parser{identities: cache}
}

// Normalize extracts a Record from one raw message. The second return is
// false when the originator contains nothing address-like; such messages
// are skipped by the caller.
func (p *Parser) Normalize(raw source.RawMessage) (Record, bool) {
	id := p.parseOriginator(raw.From)
	if !id.ok {
		return Record{}, false
	}

	url, mailto := ParseListUnsubscribe(raw.ListUnsubscribe)

	return Record{
		Key:            strings.ToLower(id.addr),
		DisplayAddress: id.addr,
		DisplayName:    id.name,
		Subject:        raw.Subject,
		Timestamp:      NormalizeDate(raw.Date),
		UnsubURL:       url,
		UnsubMailto:    mailto,
	}, true
}

func (p *Parser) parseOriginator(from string) identity {
	if id, ok := p.identities.Get(from); ok {
		return id
	}
	id := parseOriginator(from)
	p.identities.Add(from, id)
	return id
}

var (
	// "Display Name <addr@example.com>", display name possibly quoted.
	angleRe = regexp.MustCompile(`^(.*)<([^<>]+)>\s*$`)

	// Bare address embedded in free text.
	addrRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// parseOriginator applies the two extraction strategies in order:
// angle-bracket form, then bare address extraction with surrounding
// quote/paren stripping.
func parseOriginator(from string) identity {
	from = strings.TrimSpace(from)
	if from == "" {
		return identity{}
	}

	if m := angleRe.FindStringSubmatch(from); m != nil {
		addr := strings.TrimSpace(m[2])
		if strings.Contains(addr, "@") {
			name := strings.TrimSpace(m[1])
			name = strings.Trim(name, `"'`)
			name = strings.TrimSpace(name)
			return identity{addr: addr, name: name, ok: true}
		}
	}

	if addr := addrRe.FindString(stripWrapping(from)); addr != "" {
		return identity{addr: addr, ok: true}
	}

	return identity{}
}

// stripWrapping removes quote and paren wrapping so "(addr@example.com)"
// and "'addr@example.com'" both yield the bare address.
func stripWrapping(s string) string {
	return strings.Trim(s, `"'()<> `)
}

// ParseListUnsubscribe parses a List-Unsubscribe header value: comma
// separated <...> tokens. The first http(s) token wins as the URL, the
// first mailto token wins as the mailto target; at most one of each.
func ParseListUnsubscribe(header string) (url, mailto string) {
	if header == "" {
		return "", ""
	}
	for _, tok := range strings.Split(header, ",") {
		tok = strings.TrimSpace(tok)
		if !strings.HasPrefix(tok, "<") || !strings.HasSuffix(tok, ">") {
			continue
		}
		tok = strings.TrimSpace(tok[1 : len(tok)-1])
		switch {
		case url == "" && (strings.HasPrefix(tok, "http://") || strings.HasPrefix(tok, "https://")):
			url = tok
		case mailto == "" && strings.HasPrefix(tok, "mailto:"):
			mailto = tok
		}
	}
	return url, mailto
}

// dateLayouts are fallbacks for senders that do not emit RFC 5322 dates.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02",
}

// NormalizeDate parses a raw date header and renders it as RFC 3339 UTC.
// Returns "" when the value is missing or unparsable.
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, err := mail.ParseDate(raw); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ""
}
