package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected v7, got v%d", parsed.Version())
	}
}

func TestGeneratorNewSuffix(t *testing.T) {
	t.Parallel()

	gen := New()
	s1, err := gen.NewSuffix()
	if err != nil {
		t.Fatalf("NewSuffix() error = %v", err)
	}
	s2, err := gen.NewSuffix()
	if err != nil {
		t.Fatalf("NewSuffix() error = %v", err)
	}
	if len(s1) != 12 {
		t.Fatalf("expected 12 chars, got %q", s1)
	}
	if s1 == s2 {
		t.Fatalf("expected distinct suffixes, got %s twice", s1)
	}
}
