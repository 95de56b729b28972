package huffman

import (
	"bytes"
	"errors"
	"testing"
)

func TestBitWriterPacksLSBFirst(t *testing.T) {
	w := &bitWriter{}
	for _, bit := range []uint{1, 0, 0, 0, 0, 0, 0, 0, 1} {
		w.writeBit(bit)
	}

	if want := []byte{0x01, 0x01}; !bytes.Equal(w.buf, want) {
		t.Errorf("buf = % x, want % x", w.buf, want)
	}
	if w.bloc != 9 {
		t.Errorf("bloc = %d, want 9", w.bloc)
	}
}

func TestBitWriterRawSymbol(t *testing.T) {
	w := &bitWriter{}
	w.writeBits(0x41, 8)

	// 0x41 goes out MSB first, so bit 7 of the code lands in bit 0.
	if want := []byte{0x82}; !bytes.Equal(w.buf, want) {
		t.Errorf("buf = % x, want % x", w.buf, want)
	}
}

func TestBitReader(t *testing.T) {
	r := &bitReader{buf: []byte{0x82, 0x01}}

	v, err := r.readBits(8)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x41 {
		t.Errorf("readBits = %#x, want 0x41", v)
	}

	bit, err := r.readBit()
	if err != nil {
		t.Fatal(err)
	}
	if bit != 1 {
		t.Errorf("readBit = %d, want 1", bit)
	}
	if got := r.consumed(); got != 2 {
		t.Errorf("consumed = %d, want 2", got)
	}

	for i := 0; i < 7; i++ {
		if _, err := r.readBit(); err != nil {
			t.Fatalf("bit %d: %v", 9+i, err)
		}
	}
	if _, err := r.readBit(); !errors.Is(err, ErrOutOfBits) {
		t.Errorf("readBit past end: err = %v, want ErrOutOfBits", err)
	}
}
