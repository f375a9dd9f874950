package sha256

import "testing"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := Sum([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestJoinedTruncates(t *testing.T) {
	t.Parallel()

	full := Sum([]byte("hello\nworld"))
	if got := Joined(16, "hello", "world"); got != full[:16] {
		t.Fatalf("expected %s, got %s", full[:16], got)
	}
	if got := Joined(0, "hello", "world"); got != full {
		t.Fatalf("expected full digest, got %s", got)
	}
	if Joined(16, "a", "bc") == Joined(16, "ab", "c") {
		t.Fatal("separator must keep part boundaries distinct")
	}
}
