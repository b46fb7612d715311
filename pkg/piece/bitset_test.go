package piece

import "testing"

func TestPartialSetBitPromotion(t *testing.T) {
	b := NewPartial(3)
	if b.AreAllSet() {
		t.Fatal("fresh partial set should not be all-set")
	}

	b = b.SetBit(0)
	b = b.SetBit(1)
	if b.IsComplete() {
		t.Fatal("should not yet be complete")
	}

	b = b.SetBit(2)
	if !b.IsComplete() {
		t.Error("expected promotion to complete after setting the last bit")
	}
	if !b.AreAllSet() {
		t.Error("expected AreAllSet() after promotion")
	}
}

func TestCompleteIsSet(t *testing.T) {
	b := NewComplete(5)
	for i := 0; i < 5; i++ {
		if !b.IsSet(i) {
			t.Errorf("IsSet(%d) = false on complete set", i)
		}
	}
}

func TestBitsRoundTrip(t *testing.T) {
	b := NewPartial(10)
	b = b.SetBit(2)
	b = b.SetBit(7)

	restored := FromBytes(10, b.Bytes())
	for i := 0; i < 10; i++ {
		if restored.IsSet(i) != b.IsSet(i) {
			t.Errorf("bit %d mismatch after round trip", i)
		}
	}
}

func TestFromBytesPromotesWhenAllSet(t *testing.T) {
	full := NewPartial(4)
	for i := 0; i < 4; i++ {
		full = full.SetBit(i)
	}
	if !full.IsComplete() {
		t.Fatal("setting all bits should have promoted already")
	}
	if !FromBytes(4, []byte{0x0f}).IsComplete() {
		t.Fatal("FromBytes with every bit set should return the complete shape")
	}
}

func TestSetBitDoesNotMutateReceiver(t *testing.T) {
	b := NewPartial(2)
	next := b.SetBit(0)
	if b.IsSet(0) {
		t.Error("SetBit mutated the receiver")
	}
	if !next.IsSet(0) {
		t.Error("SetBit result did not set the bit")
	}
}
