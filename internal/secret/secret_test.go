package secret

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := New(DefaultTag, DefaultPrefixLen)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestGenerateFormat(t *testing.T) {
	g := newTestGenerator(t)

	s, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(s.Raw, "ks_") {
		t.Errorf("raw key %q missing tag", s.Raw)
	}
	if len(s.Raw) != 3+64 {
		t.Errorf("raw key length: got %d, want %d", len(s.Raw), 67)
	}
	if s.Prefix != s.Raw[:8] {
		t.Errorf("prefix: got %q, want %q", s.Prefix, s.Raw[:8])
	}
	if p, ok := g.Prefix(s.Raw); !ok || p != s.Prefix {
		t.Errorf("Prefix(raw) = %q, %v; want %q, true", p, ok, s.Prefix)
	}
}

func TestGenerateUnique(t *testing.T) {
	g := newTestGenerator(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[s.Raw] {
			t.Fatalf("duplicate key generated: %s", s.Raw)
		}
		seen[s.Raw] = true
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestGenerateEntropyUnavailable(t *testing.T) {
	g := newTestGenerator(t).WithRand(failingReader{})
	_, err := g.Generate()
	if !errors.Is(err, ErrEntropyUnavailable) {
		t.Fatalf("expected ErrEntropyUnavailable, got %v", err)
	}

	// A short read must fail too rather than produce a weaker key.
	g = g.WithRand(io.LimitReader(bytes.NewReader(make([]byte, 64)), 10))
	if _, err := g.Generate(); !errors.Is(err, ErrEntropyUnavailable) {
		t.Fatalf("short read: expected ErrEntropyUnavailable, got %v", err)
	}
}

func TestGenerateDeterministicWithReader(t *testing.T) {
	g := newTestGenerator(t).WithRand(bytes.NewReader(bytes.Repeat([]byte{0xab}, 32)))
	s, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := "ks_" + strings.Repeat("ab", 32)
	if s.Raw != want {
		t.Errorf("raw: got %q, want %q", s.Raw, want)
	}
	if s.Prefix != "ks_ababa" {
		t.Errorf("prefix: got %q", s.Prefix)
	}
}

func TestPrefixRejectsMalformed(t *testing.T) {
	g := newTestGenerator(t)
	body := strings.Repeat("a", 64)

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"wrong tag", "xx_" + body},
		{"missing underscore", "ks" + body + "a"},
		{"short body", "ks_" + body[:63]},
		{"long body", "ks_" + body + "a"},
		{"uppercase hex", "ks_" + strings.Repeat("A", 64)},
		{"non hex", "ks_" + strings.Repeat("z", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := g.Prefix(tt.raw); ok {
				t.Errorf("Prefix(%q) accepted a malformed key", tt.raw)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name      string
		tag       string
		prefixLen int
		wantErr   bool
	}{
		{"default", "ks", 8, false},
		{"longest allowed", "ks", 3 + 16, false},
		{"empty tag", "", 8, true},
		{"uppercase tag", "KS", 8, true},
		{"prefix only covers tag", "ks", 3, true},
		{"prefix exposes too much", "ks", 3 + 17, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tag, tt.prefixLen)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q, %d) error = %v, wantErr %v", tt.tag, tt.prefixLen, err, tt.wantErr)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	raw := "ks_" + strings.Repeat("0f", 32)
	in := "auth failed for key " + raw + " from 10.0.0.1"

	out := Redact(in)
	if strings.Contains(out, raw) {
		t.Fatalf("raw key survived redaction: %s", out)
	}
	if !strings.Contains(out, "ks_0f0f0…[REDACTED]") {
		t.Errorf("unexpected redaction output: %s", out)
	}
	if got := Redact("nothing to see"); got != "nothing to see" {
		t.Errorf("Redact changed plain text: %q", got)
	}
}

func TestRedactAttr(t *testing.T) {
	raw := "ks_" + strings.Repeat("12", 32)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{ReplaceAttr: RedactAttr}))

	logger.Info("presented", "key", raw, "error", errors.New("bad key "+raw))

	if strings.Contains(buf.String(), raw) {
		t.Fatalf("raw key leaked into log output: %s", buf.String())
	}
}

func TestRedactGluedKeys(t *testing.T) {
	raw := "ks_" + strings.Repeat("ab", 32)
	body := raw[len("ks_"):]

	for _, in := range []string{
		"apikey_" + raw,
		"X" + raw,
		"token=" + raw + "x",
		raw + "ff",
		"Bearer " + raw,
	} {
		out := Redact(in)
		if strings.Contains(out, body[5:]) {
			t.Errorf("Redact(%q) = %q, key body survived", in, out)
		}
		if !strings.Contains(out, "ks_ababa…[REDACTED]") {
			t.Errorf("Redact(%q) = %q, want the prefix kept", in, out)
		}
	}
}

type keyHolder struct{ key string }

func (k keyHolder) String() string { return "holder(" + k.key + ")" }

func TestRedactAttrNonStringValues(t *testing.T) {
	raw := "ks_" + strings.Repeat("34", 32)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: RedactAttr}))

	header := http.Header{}
	header.Set("X-API-Key", raw)
	logger.Info("request",
		"headers", header,
		"holder", keyHolder{key: raw},
		"keys", []string{raw},
		"count", 3,
		"none", nil,
	)

	out := buf.String()
	if strings.Contains(out, raw) {
		t.Fatalf("raw key leaked into log output: %s", out)
	}
	if !strings.Contains(out, `"count":3`) {
		t.Errorf("unrelated attribute was rewritten: %s", out)
	}
}
