package mailparse

import (
	"testing"

	"github.com/nwalden/mailscan/pkg/source"
)

func TestParseOriginator(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		wantAddr string
		wantName string
		wantOK   bool
	}{
		{
			name:     "angle bracket form",
			from:     "Jane Doe <jane@example.com>",
			wantAddr: "jane@example.com",
			wantName: "Jane Doe",
			wantOK:   true,
		},
		{
			name:     "quoted display name",
			from:     `"Doe, Jane" <jane@example.com>`,
			wantAddr: "jane@example.com",
			wantName: "Doe, Jane",
			wantOK:   true,
		},
		{
			name:     "bare address",
			from:     "jane@example.com",
			wantAddr: "jane@example.com",
			wantOK:   true,
		},
		{
			name:     "address in parens",
			from:     "(jane@example.com)",
			wantAddr: "jane@example.com",
			wantOK:   true,
		},
		{
			name:     "address in single quotes",
			from:     "'jane@example.com'",
			wantAddr: "jane@example.com",
			wantOK:   true,
		},
		{
			name:     "address embedded in free text",
			from:     "reply to jane@example.com please",
			wantAddr: "jane@example.com",
			wantOK:   true,
		},
		{
			name:   "angle brackets without address falls through",
			from:   "Jane <not-an-address>",
			wantOK: false,
		},
		{
			name:   "no address at all",
			from:   "Undisclosed Recipients",
			wantOK: false,
		},
		{
			name:   "empty",
			from:   "",
			wantOK: false,
		},
		{
			name:     "whitespace padded angle form",
			from:     "  Ops Alerts   <alerts@ops.example.io>  ",
			wantAddr: "alerts@ops.example.io",
			wantName: "Ops Alerts",
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := parseOriginator(tt.from)
			if id.ok != tt.wantOK {
				t.Fatalf("parseOriginator(%q).ok = %v, want %v", tt.from, id.ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if id.addr != tt.wantAddr {
				t.Errorf("addr = %q, want %q", id.addr, tt.wantAddr)
			}
			if id.name != tt.wantName {
				t.Errorf("name = %q, want %q", id.name, tt.wantName)
			}
		})
	}
}

func TestNormalizeCaseFoldsKey(t *testing.T) {
	p := NewParser()
	rec, ok := p.Normalize(source.RawMessage{From: "Jane <Jane.Doe@Example.COM>"})
	if !ok {
		t.Fatal("Normalize returned not ok")
	}
	if rec.Key != "jane.doe@example.com" {
		t.Errorf("Key = %q, want case-folded address", rec.Key)
	}
	if rec.DisplayAddress != "Jane.Doe@Example.COM" {
		t.Errorf("DisplayAddress = %q, want original case preserved", rec.DisplayAddress)
	}
}

func TestNormalizeSkipsAddresslessMessages(t *testing.T) {
	p := NewParser()
	if _, ok := p.Normalize(source.RawMessage{From: "no address here", Subject: "x"}); ok {
		t.Error("expected addressless message to be skipped")
	}
}

func TestNormalizeCachedIdentity(t *testing.T) {
	p := NewParser()
	// Same From value twice must yield identical results through the cache.
	raw := source.RawMessage{From: "Jane <jane@example.com>"}
	first, ok1 := p.Normalize(raw)
	second, ok2 := p.Normalize(raw)
	if !ok1 || !ok2 {
		t.Fatal("Normalize failed")
	}
	if first.Key != second.Key || first.DisplayName != second.DisplayName {
		t.Errorf("cached normalize differs: %+v vs %+v", first, second)
	}
}

func TestParseListUnsubscribe(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantURL    string
		wantMailto string
	}{
		{
			name:       "url then mailto",
			header:     "<https://example.com/unsub>, <mailto:unsub@example.com>",
			wantURL:    "https://example.com/unsub",
			wantMailto: "mailto:unsub@example.com",
		},
		{
			name:       "mailto then url",
			header:     "<mailto:unsub@example.com>, <http://example.com/u>",
			wantURL:    "http://example.com/u",
			wantMailto: "mailto:unsub@example.com",
		},
		{
			name:    "first url wins",
			header:  "<https://a.example/u>, <https://b.example/u>",
			wantURL: "https://a.example/u",
		},
		{
			name:   "unbracketed tokens ignored",
			header: "https://example.com/unsub, mailto:unsub@example.com",
		},
		{
			name:   "empty header",
			header: "",
		},
		{
			name:    "ftp scheme ignored",
			header:  "<ftp://example.com/x>, <https://example.com/u>",
			wantURL: "https://example.com/u",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, mailto := ParseListUnsubscribe(tt.header)
			if url != tt.wantURL {
				t.Errorf("url = %q, want %q", url, tt.wantURL)
			}
			if mailto != tt.wantMailto {
				t.Errorf("mailto = %q, want %q", mailto, tt.wantMailto)
			}
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "rfc5322",
			raw:  "Mon, 02 Jan 2006 15:04:05 -0700",
			want: "2006-01-02T22:04:05Z",
		},
		{
			name: "rfc3339 passthrough",
			raw:  "2024-03-01T10:00:00Z",
			want: "2024-03-01T10:00:00Z",
		},
		{
			name: "date only",
			raw:  "2024-03-01",
			want: "2024-03-01T00:00:00Z",
		},
		{
			name: "garbage",
			raw:  "yesterday-ish",
			want: "",
		},
		{
			name: "empty",
			raw:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDate(tt.raw); got != tt.want {
				t.Errorf("NormalizeDate(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
