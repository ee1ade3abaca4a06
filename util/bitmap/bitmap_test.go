package bitmap

import (
	"bytes"
	"testing"
)

func TestSetClearIsSet(t *testing.T) {
	bm := New(2)
	for _, loc := range []int{0, 3, 8, 15} {
		if err := bm.Set(loc); err != nil {
			t.Fatalf("set %d: %v", loc, err)
		}
	}
	for loc := 0; loc < 16; loc++ {
		set, err := bm.IsSet(loc)
		if err != nil {
			t.Fatalf("isSet %d: %v", loc, err)
		}
		want := loc == 0 || loc == 3 || loc == 8 || loc == 15
		if set != want {
			t.Errorf("bit %d: expected %v, got %v", loc, want, set)
		}
	}

	if err := bm.Clear(3); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if set, _ := bm.IsSet(3); set {
		t.Errorf("bit 3 still set after clear")
	}

	t.Run("out of range", func(t *testing.T) {
		if err := bm.Set(16); err == nil {
			t.Errorf("expected error setting bit 16 of a 16-bit map")
		}
		if err := bm.Clear(-1); err == nil {
			t.Errorf("expected error clearing a negative bit")
		}
		if _, err := bm.IsSet(100); err == nil {
			t.Errorf("expected error testing bit 100")
		}
	})
}

func TestFirstFree(t *testing.T) {
	tests := []struct {
		name     string
		set      []int
		start    int
		expected int
	}{
		{"empty map", nil, 0, 0},
		{"first bit taken", []int{0}, 0, 1},
		{"first byte taken", []int{0, 1, 2, 3, 4, 5, 6, 7}, 0, 8},
		{"gap in middle", []int{0, 1, 3}, 0, 2},
		{"start past gap", []int{0, 1, 3}, 3, 4},
		{"start on free bit", []int{0}, 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bm := New(4)
			for _, loc := range tt.set {
				if err := bm.Set(loc); err != nil {
					t.Fatalf("set %d: %v", loc, err)
				}
			}
			if got := bm.FirstFree(tt.start); got != tt.expected {
				t.Errorf("expected first free %d, got %d", tt.expected, got)
			}
		})
	}

	t.Run("full map", func(t *testing.T) {
		bm := New(2)
		if err := bm.SetRange(0, 16); err != nil {
			t.Fatalf("setRange: %v", err)
		}
		if got := bm.FirstFree(0); got != -1 {
			t.Errorf("expected -1 on a full map, got %d", got)
		}
	})

	t.Run("start beyond map", func(t *testing.T) {
		bm := New(2)
		if got := bm.FirstFree(100); got != -1 {
			t.Errorf("expected -1, got %d", got)
		}
	})
}

func TestSetRangeAndFreeCount(t *testing.T) {
	bm := New(4)
	if err := bm.SetRange(3, 11); err != nil {
		t.Fatalf("setRange: %v", err)
	}
	if got := bm.FreeCount(32); got != 24 {
		t.Errorf("expected 24 free bits, got %d", got)
	}
	if got := bm.FreeCount(8); got != 3 {
		t.Errorf("expected 3 free bits among the first 8, got %d", got)
	}
	if got := bm.FreeCount(10); got != 3 {
		t.Errorf("expected 3 free bits among the first 10, got %d", got)
	}
	if got := bm.FreeCount(-1); got != 24 {
		t.Errorf("expected limit -1 to cover the whole map, got %d", got)
	}
}

func TestRoundTripBytes(t *testing.T) {
	raw := []byte{0xa5, 0x00, 0xff, 0x3c}
	bm := FromBytes(raw)
	if !bytes.Equal(bm.ToBytes(), raw) {
		t.Errorf("expected bytes to round-trip unchanged")
	}
	// the copies must be independent
	raw[0] = 0
	if bm.ToBytes()[0] != 0xa5 {
		t.Errorf("bitmap aliases its input bytes")
	}
}
