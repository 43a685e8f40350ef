package wallet

import "testing"

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()

	if !IsValidID(id1) || !IsValidID(id2) {
		t.Errorf("generated ids are not UUIDs: %q, %q", id1, id2)
	}
	if id1 == id2 {
		t.Error("ids must be unique")
	}
}

func TestNewID_TimeOrdered(t *testing.T) {
	// UUIDv7 sorts by creation time; ids minted in sequence must not
	// sort backwards.
	prev := NewID()
	for i := 0; i < 10; i++ {
		next := NewID()
		if next < prev {
			t.Fatalf("id %q sorts before earlier id %q", next, prev)
		}
		prev = next
	}
}

func TestIsValidID(t *testing.T) {
	if !IsValidID("018f6b28-5a2c-7c3e-b2a4-3f8d9e0a1b2c") {
		t.Error("well-formed UUID rejected")
	}
	if IsValidID("not-a-uuid") {
		t.Error("junk accepted as UUID")
	}
	if IsValidID("") {
		t.Error("empty string accepted as UUID")
	}
}
