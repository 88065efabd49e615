package attemptgate

import (
	"strings"
	"testing"
)

func TestClientKey_Deterministic(t *testing.T) {
	a := ClientKey("alice@example.com", "device-7")
	b := ClientKey("alice@example.com", "device-7")
	if a != b {
		t.Fatalf("expected stable key, got %q and %q", a, b)
	}
}

func TestClientKey_DistinguishesSignals(t *testing.T) {
	if ClientKey("alice") == ClientKey("bob") {
		t.Fatal("expected distinct keys for distinct signals")
	}

	// Length prefixing keeps signal boundaries intact.
	if ClientKey("ab", "c") == ClientKey("a", "bc") {
		t.Fatal("expected boundary-shifted signals to differ")
	}
	if ClientKey("alice") == ClientKey("alice", "") {
		t.Fatal("expected trailing empty signal to change the key")
	}
}

func TestClientKey_SafeForAnyBackend(t *testing.T) {
	key := ClientKey("weird key\twith\nws", "émöji🙂")

	if key == "" {
		t.Fatal("expected non-empty key")
	}
	if strings.ContainsAny(key, "+/=") {
		t.Fatalf("expected url-safe unpadded encoding, got %q", key)
	}
	if strings.ContainsAny(key, " \t\n") {
		t.Fatalf("expected no whitespace in key, got %q", key)
	}
}
