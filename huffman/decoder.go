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

import (
	"errors"
	"fmt"
)

// Decoder is the receiving counterpart of Encoder.
type Decoder struct {
	tree *Tree
	err  error
}

func NewDecoder(opts ...Option) *Decoder {
	o := buildOptions(opts)
	return &Decoder{
		tree: newTree(o.weightLimit),
	}
}

func (d *Decoder) Tree() *Tree {
	return d.tree
}

func (d *Decoder) fail(err error) error {
	d.err = err
	return err
}

func (d *Decoder) Decompress(data []byte) ([]byte, error) {
	if d.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoisoned, d.err)
	}
	if len(data) == 0 {
		return []byte{}, nil
	}
	if len(data) < 2 {
		return nil, d.fail(fmt.Errorf("%w: %d byte header", ErrTruncated, len(data)))
	}

	n := int(data[0])<<8 | int(data[1])
	r := &bitReader{
		buf:  data,
		bloc: 16,
	}

	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		sym, err := d.decode(r)
		if err != nil {
			if errors.Is(err, ErrOutOfBits) {
				err = fmt.Errorf("%w: got %d of %d symbols: %w", ErrTruncated, i, n, err)
			}
			return nil, d.fail(err)
		}
		out = append(out, byte(sym))
	}

	// Reference encoders round the bit count up and then add one more
	// byte when it was already a multiple of eight.
	used := r.consumed()
	if extra := len(data) - used; extra > 1 || extra == 1 && (r.bloc&7 != 0 || data[used] != 0) {
		return nil, d.fail(fmt.Errorf("%w: %d bytes", ErrTrailingData, extra))
	}

	return out, nil
}

func (d *Decoder) decode(r *bitReader) (int, error) {
	t := d.tree

	n := t.root
	for t.nodes[n].symbol == symInternal {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		if bit == 0 {
			n = t.nodes[n].left
		} else {
			n = t.nodes[n].right
		}
	}

	sym := t.nodes[n].symbol
	if sym == symNYT {
		v, err := r.readBits(8)
		if err != nil {
			return 0, err
		}
		sym = int(v)
		if _, ok := t.syms.lookup(sym); ok {
			return 0, fmt.Errorf("%w: raw code for known symbol %#02x", ErrCorrupt, sym)
		}
	}

	t.update(sym)
	return sym, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
