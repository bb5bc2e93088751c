package utils

import (
	"strings"
	"testing"
)

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateSessionID(t *testing.T) {
	a, b := GenerateSessionID(), GenerateSessionID()
	if !strings.HasPrefix(a, "sess_") {
		t.Fatalf("expected sess_ prefix, got %s", a)
	}
	if a == b {
		t.Fatalf("expected distinct session ids")
	}
	// "sess_" + 36 character uuid
	if len(a) != 41 {
		t.Fatalf("unexpected session id length %d", len(a))
	}
}

func TestGenerateBatchID(t *testing.T) {
	id := GenerateBatchID()
	if !strings.HasPrefix(id, "batch_") || len(id) != len("batch_")+8 {
		t.Fatalf("unexpected batch id %q", id)
	}
}
