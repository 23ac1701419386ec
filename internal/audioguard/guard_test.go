package audioguard

import "testing"

func TestGuardRejectsRepeat(t *testing.T) {
	t.Parallel()

	g := New()
	blob := []byte("RIFF....WAVEfmt first recording")

	if !g.Accept(blob) {
		t.Fatal("expected first submission to be accepted")
	}
	first := g.Last()
	if first == "" {
		t.Fatal("expected digest to be recorded")
	}
	if g.Accept(blob) {
		t.Fatal("expected identical submission to be rejected")
	}
	if g.Last() != first {
		t.Fatal("rejected submission must not change the stored digest")
	}
}

func TestGuardAcceptsDistinct(t *testing.T) {
	t.Parallel()

	g := New()
	a := []byte("recording-a")
	b := []byte("recording-b")

	if !g.Accept(a) || !g.Accept(b) {
		t.Fatal("expected distinct submissions to be accepted")
	}
	if g.Last() != Digest(b) {
		t.Fatalf("expected last digest %s, got %s", Digest(b), g.Last())
	}
	// a is no longer the last one, so it is accepted again.
	if !g.Accept(a) {
		t.Fatal("expected earlier payload to be accepted after a different one")
	}
}

func TestGuardEmptyPayload(t *testing.T) {
	t.Parallel()

	g := New()
	if g.Accept(nil) || g.Accept([]byte{}) {
		t.Fatal("expected empty payloads to be rejected")
	}
	if g.Last() != "" {
		t.Fatal("empty payload must not be recorded")
	}
}

func TestGuardReset(t *testing.T) {
	t.Parallel()

	g := New()
	blob := []byte("same")
	g.Accept(blob)
	g.Reset()

	if g.Last() != "" {
		t.Fatal("expected digest to be cleared")
	}
	if !g.Accept(blob) {
		t.Fatal("expected payload to be accepted after reset")
	}
}
