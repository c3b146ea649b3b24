package protocol

import "testing"

func TestRoundTrip(t *testing.T) {
	for _, tag := range All {
		got, err := FromWire(tag.AsWire())
		if err != nil {
			t.Fatalf("FromWire(%s): unexpected error %v", tag.AsWire(), err)
		}
		if got != tag {
			t.Errorf("FromWire(AsWire(%v)) = %v, want %v", tag, got, tag)
		}
	}
}

func TestWireNamesDistinct(t *testing.T) {
	seen := map[string]Tag{}
	for _, tag := range All {
		wire := tag.AsWire()
		if other, ok := seen[wire]; ok {
			t.Errorf("wire name %q shared by %v and %v", wire, other, tag)
		}
		seen[wire] = tag
	}
}

func TestFromWireUnknown(t *testing.T) {
	_, err := FromWire("/starknet/headers/2")
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
	if _, ok := err.(*UnknownProtocolError); !ok {
		t.Errorf("expected *UnknownProtocolError, got %T", err)
	}
}

func TestWireNamesExact(t *testing.T) {
	cases := map[Tag]string{
		SignedBlockHeader: "/starknet/headers/1",
		StateDiff:         "/starknet/state_diffs/1",
		Transaction:       "/starknet/transactions/1",
	}
	for tag, want := range cases {
		if got := tag.AsWire(); got != want {
			t.Errorf("%v.AsWire() = %q, want %q", tag, got, want)
		}
	}
}
