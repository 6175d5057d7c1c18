package qr

import (
	"strings"
	"testing"
)

func TestIssueFormat(t *testing.T) {
	g := NewGenerator()

	token, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, "-")
	if len(parts) != 3 {
		t.Fatalf("expected 3 dash-separated parts, got %q", token)
	}
	if parts[0] != "EVT" {
		t.Fatalf("expected EVT prefix, got %q", parts[0])
	}
	if len(parts[2]) != 12 {
		t.Fatalf("expected 12-char random part, got %q", parts[2])
	}

	// URL-safe: no characters that need escaping in a query or QR payload.
	if strings.ContainsAny(token, " /?#%&+=") {
		t.Fatalf("token contains unsafe characters: %q", token)
	}
}

func TestIssueUnique(t *testing.T) {
	g := NewGenerator()

	seen := make(map[string]struct{}, 10000)

	for i := 0; i < 10000; i++ {
		token, err := g.Issue()
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token after %d issuances: %q", i, token)
		}
		seen[token] = struct{}{}
	}
}
