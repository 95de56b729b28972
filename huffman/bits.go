/**
 * Copyright 2022 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */
package huffman

// bitWriter packs bits LSB-first into a growing byte slice.
type bitWriter struct {
	buf  []byte
	bloc int
}

func (w *bitWriter) writeBit(bit uint) {
	if w.bloc&7 == 0 {
		w.buf = append(w.buf, 0)
	}
	w.buf[w.bloc>>3] |= byte(bit&1) << (w.bloc & 7)
	w.bloc++
}

// writeBits emits the low n bits of v, most significant first.
func (w *bitWriter) writeBits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> i) & 1)
	}
}

type bitReader struct {
	buf  []byte
	bloc int
}

func (r *bitReader) readBit() (uint, error) {
	if r.bloc >= len(r.buf)*8 {
		return 0, ErrOutOfBits
	}
	bit := uint(r.buf[r.bloc>>3]>>(r.bloc&7)) & 1
	r.bloc++
	return bit, nil
}

func (r *bitReader) readBits(n int) (uint, error) {
	var v uint
	for i := 0; i < n; i++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | bit
	}
	return v, nil
}

// consumed is the number of bytes touched by the cursor so far.
func (r *bitReader) consumed() int {
	return (r.bloc + 7) >> 3
}

// vim: ai:ts=8:sw=8:noet:syntax=go
