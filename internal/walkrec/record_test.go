package walkrec

import (
	"testing"

	"github.com/vertexwalk/engine/internal/walkerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		source, current, hop uint32
	}{
		{0, 0, 0},
		{1, 1, 1},
		{MaxSource - 1, MaxCurrent - 1, MaxHop - 1},
		{12345, 654321, 8191},
	}
	for _, c := range cases {
		r, err := Encode(c.source, c.current, c.hop)
		if err != nil {
			t.Fatalf("Encode(%d,%d,%d): %v", c.source, c.current, c.hop, err)
		}
		gotSource, gotCurrent, gotHop := Decode(r)
		if gotSource != c.source || gotCurrent != c.current || gotHop != c.hop {
			t.Fatalf("round trip mismatch: got (%d,%d,%d) want (%d,%d,%d)",
				gotSource, gotCurrent, gotHop, c.source, c.current, c.hop)
		}
	}
}

func TestEncodeOverflow(t *testing.T) {
	t.Run("source", func(t *testing.T) {
		_, err := Encode(MaxSource, 0, 0)
		if !walkerr.IsKind(err, walkerr.KindOverflowEncoding) {
			t.Fatalf("expected OverflowEncoding, got %v", err)
		}
	})
	t.Run("current", func(t *testing.T) {
		_, err := Encode(0, MaxCurrent, 0)
		if !walkerr.IsKind(err, walkerr.KindOverflowEncoding) {
			t.Fatalf("expected OverflowEncoding, got %v", err)
		}
	})
	t.Run("hop", func(t *testing.T) {
		_, err := Encode(0, 0, MaxHop)
		if !walkerr.IsKind(err, walkerr.KindOverflowEncoding) {
			t.Fatalf("expected OverflowEncoding, got %v", err)
		}
	})
}

func TestRebasePreservesSourceAndHop(t *testing.T) {
	r, err := Encode(42, 100, 7)
	if err != nil {
		t.Fatal(err)
	}
	rebased, err := r.Rebase(999)
	if err != nil {
		t.Fatal(err)
	}
	if rebased.Source() != 42 || rebased.Hop() != 7 || rebased.Current() != 999 {
		t.Fatalf("rebase mismatch: %+v", rebased)
	}
}

func TestWithHopPreservesSourceAndCurrent(t *testing.T) {
	r, err := Encode(42, 100, 7)
	if err != nil {
		t.Fatal(err)
	}
	advanced, err := r.WithHop(8)
	if err != nil {
		t.Fatal(err)
	}
	if advanced.Source() != 42 || advanced.Current() != 100 || advanced.Hop() != 8 {
		t.Fatalf("WithHop mismatch: %+v", advanced)
	}
}
