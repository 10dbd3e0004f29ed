package transfer

import (
	"strings"
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	key := strings.Repeat("a", 64)
	canonical := []byte(`{"name":"Widget","price":19.99}`)
	ts := time.Now().Unix()

	sig := Sign(canonical, ts, key)
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}

	if !Verify(canonical, ts, key, sig) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	key := strings.Repeat("a", 64)
	canonical := []byte(`{"name":"Widget","price":19.99}`)
	ts := time.Now().Unix()
	sig := Sign(canonical, ts, key)

	tests := []struct {
		name      string
		canonical []byte
		ts        int64
		key       string
		sig       string
	}{
		{"modified payload", []byte(`{"name":"Widget","price":0.99}`), ts, key, sig},
		{"modified timestamp", canonical, ts + 1, key, sig},
		{"wrong key", canonical, ts, strings.Repeat("b", 64), sig},
		{"truncated signature", canonical, ts, key, sig[:32]},
		{"empty signature", canonical, ts, key, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.canonical, tt.ts, tt.key, tt.sig) {
				t.Fatal("expected verification to fail")
			}
		})
	}
}

func TestFresh(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		ts   int64
		want bool
	}{
		{"current", now.Unix(), true},
		{"within window past", now.Add(-299 * time.Second).Unix(), true},
		{"within window future", now.Add(299 * time.Second).Unix(), true},
		{"exactly at boundary", now.Add(-300 * time.Second).Unix(), true},
		{"past boundary", now.Add(-301 * time.Second).Unix(), false},
		{"future boundary", now.Add(301 * time.Second).Unix(), false},
		{"zero", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fresh(tt.ts, now); got != tt.want {
				t.Fatalf("Fresh(%d) = %v, want %v", tt.ts, got, tt.want)
			}
		})
	}
}

func TestCanonicalIsStable(t *testing.T) {
	payload := &TransferPayload{
		OriginalProductID: 42,
		SKU:               "WIDGET-1",
		Name:              "Widget",
		Price:             19.99,
		Quantity:          2,
		SourceSite:        "https://source.example",
		Timestamp:         1700000000,
	}

	first, err := payload.Canonical()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := payload.Canonical()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(first) != string(second) {
		t.Fatal("canonical form is not stable")
	}
}

func TestPayloadValidate(t *testing.T) {
	valid := TransferPayload{
		OriginalProductID: 1,
		Name:              "Widget",
		Price:             10,
		Quantity:          1,
		SourceSite:        "https://source.example",
	}

	tests := []struct {
		name   string
		mutate func(*TransferPayload)
		ok     bool
	}{
		{"valid", func(p *TransferPayload) {}, true},
		{"zero quantity", func(p *TransferPayload) { p.Quantity = 0 }, false},
		{"negative quantity", func(p *TransferPayload) { p.Quantity = -3 }, false},
		{"missing name", func(p *TransferPayload) { p.Name = "  " }, false},
		{"negative price", func(p *TransferPayload) { p.Price = -1 }, false},
		{"missing source site", func(p *TransferPayload) { p.SourceSite = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !IsKind(err, KindValidation) {
					t.Fatalf("expected validation kind, got %v", KindOf(err))
				}
			}
		})
	}
}

func TestSnippetTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	if got := Snippet([]byte(long)); len(got) != 200 {
		t.Fatalf("expected 200 bytes, got %d", len(got))
	}
	if got := Snippet([]byte("short")); got != "short" {
		t.Fatalf("expected untouched snippet, got %q", got)
	}
}
