package huffman

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func repeat(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func randomBytes(seed int64, n int) []byte {
	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	rng.Read(buf)
	return buf
}

func allBytes() []byte {
	buf := make([]byte, 0, 512)
	for i := 0; i < 256; i++ {
		buf = append(buf, byte(i))
	}
	for i := 255; i >= 0; i-- {
		buf = append(buf, byte(i))
	}
	return buf
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"one_byte", []byte("A")},
		{"zero_byte", []byte{0}},
		{"repeat_1", repeat('z', 1)},
		{"repeat_2", repeat('z', 2)},
		{"repeat_255", repeat('z', 255)},
		{"repeat_65535", repeat('z', 65535)},
		{"info_string", []byte(`"\g_password\none\cl_anonymous\0\snaps\20\rate\25000\name\^7999zero\cl_wwwDownload\1\protocol\84\qport\31415\challenge\1234567"`)},
		{"all_bytes", allBytes()},
		{"random_1k", randomBytes(1, 1024)},
		{"random_max", randomBytes(2, MaxLength)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Compress(tc.data)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}

			out, err := Decompress(c)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(out, tc.data) {
				t.Errorf("round trip changed %d bytes into %d bytes", len(tc.data), len(out))
			}
		})
	}
}

func TestCompressKnownOutput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []byte
	}{
		{"empty", nil, []byte{}},
		// No NYT path bits yet, then 0x41 MSB first.
		{"single_A", []byte{0x41}, []byte{0x00, 0x01, 0x82}},
		// Second 'A' costs one bit: the right edge under the new root.
		{"double_A", []byte{0x41, 0x41}, []byte{0x00, 0x02, 0x82, 0x01}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compress(tc.data)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Errorf("Compress(% x) = % x, want % x", tc.data, got, tc.want)
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	data := randomBytes(7, 4096)

	a, err := NewEncoder().Compress(data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEncoder().Compress(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two fresh encoders disagree")
	}
}

func TestCompressTooLong(t *testing.T) {
	e := NewEncoder()
	before := e.Tree().Fingerprint()

	if _, err := e.Compress(make([]byte, MaxLength+1)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
	if e.Tree().Fingerprint() != before {
		t.Error("rejected input changed the tree")
	}

	c, err := e.Compress([]byte("still usable"))
	if err != nil {
		t.Fatalf("encoder unusable after a rejected input: %v", err)
	}
	out, err := Decompress(c)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "still usable" {
		t.Errorf("got %q", out)
	}
}

func TestDecompressErrors(t *testing.T) {
	c, err := Compress([]byte("hello, world"))
	if err != nil {
		t.Fatal(err)
	}
	single, err := Compress([]byte("A"))
	if err != nil {
		t.Fatal(err)
	}

	// Header says two symbols, then raw 'A', the NYT path and raw 'A' again.
	w := &bitWriter{buf: []byte{0x00, 0x02}, bloc: 16}
	w.writeBits('A', 8)
	w.writeBit(0)
	w.writeBits('A', 8)
	corrupt := w.buf

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short_header", []byte{0x00}, ErrTruncated},
		{"header_only", []byte{0x00, 0x05}, ErrTruncated},
		{"cut_short", c[:len(c)-1], ErrTruncated},
		{"trailing_byte", append(append([]byte{}, c...), 0xff), ErrTrailingData},
		{"trailing_bytes", append(append([]byte{}, single...), 0, 0), ErrTrailingData},
		{"zero_count_with_body", []byte{0x00, 0x00, 0x12, 0x34}, ErrTrailingData},
		{"known_symbol_as_raw", corrupt, ErrCorrupt},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decompress(tc.data); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecompressPaddingByte(t *testing.T) {
	// "A" ends exactly on a byte boundary; reference encoders append a
	// zero byte in that case.
	out, err := Decompress([]byte{0x00, 0x01, 0x82, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "A" {
		t.Errorf("got %q, want %q", out, "A")
	}
}

func TestDecoderPoisoned(t *testing.T) {
	d := NewDecoder()
	if _, err := d.Decompress([]byte{0x00, 0x03}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}

	good, err := Compress([]byte("ok"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Decompress(good)
	if !errors.Is(err, ErrPoisoned) {
		t.Errorf("err = %v, want ErrPoisoned", err)
	}
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("err = %v, want it to carry the original failure", err)
	}
}

func TestStream(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"default", nil},
		{"small_limit", []Option{WithWeightLimit(128)}},
		{"no_limit", []Option{WithWeightLimit(0)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEncoder(tc.opts...)
			d := NewDecoder(tc.opts...)

			for i := 0; i < 50; i++ {
				msg := randomBytes(int64(i), 10+i*7)
				if i%3 == 0 {
					msg = bytes.Repeat([]byte("rcon status "), i+1)
				}

				c, err := e.Compress(msg)
				if err != nil {
					t.Fatalf("message %d: Compress: %v", i, err)
				}
				out, err := d.Decompress(c)
				if err != nil {
					t.Fatalf("message %d: Decompress: %v", i, err)
				}
				if !bytes.Equal(out, msg) {
					t.Fatalf("message %d: round trip mismatch", i)
				}
				if err := d.Tree().Validate(); err != nil {
					t.Fatalf("message %d: %v", i, err)
				}
			}
		})
	}
}

func TestCompressOffset(t *testing.T) {
	prefix := "\xff\xff\xff\xffconnect "
	msg := []byte(prefix + `"\name\player\protocol\84"`)

	c, err := CompressOffset(msg, len(prefix))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(c, []byte(prefix)) {
		t.Fatalf("prefix not kept: % x", c[:len(prefix)])
	}

	out, err := DecompressOffset(c, len(prefix))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, msg) {
		t.Errorf("got %q, want %q", out, msg)
	}

	if _, err := CompressOffset(msg, len(msg)+1); err == nil {
		t.Error("offset past the end accepted")
	}
}
