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

import "fmt"

// Encoder compresses one direction of a stream. Its tree carries over
// from one Compress call to the next; a failed call poisons it.
type Encoder struct {
	tree *Tree
	err  error
	path []byte
}

func NewEncoder(opts ...Option) *Encoder {
	o := buildOptions(opts)
	return &Encoder{
		tree: newTree(o.weightLimit),
		path: make([]byte, 0, arenaSize),
	}
}

// Tree exposes the encoder state for inspection.
func (e *Encoder) Tree() *Tree {
	return e.tree
}

func (e *Encoder) Compress(data []byte) ([]byte, error) {
	if e.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoisoned, e.err)
	}
	if len(data) > MaxLength {
		return nil, fmt.Errorf("%w: got %d", ErrTooLong, len(data))
	}
	if len(data) == 0 {
		return []byte{}, nil
	}

	w := &bitWriter{
		buf:  make([]byte, 2, 2+len(data)),
		bloc: 16,
	}
	w.buf[0] = byte(len(data) >> 8)
	w.buf[1] = byte(len(data))

	for _, b := range data {
		if err := e.encode(w, int(b)); err != nil {
			e.err = err
			return nil, err
		}
	}

	return w.buf, nil
}

func (e *Encoder) encode(w *bitWriter, sym int) error {
	t := e.tree

	leaf, seen := t.syms.lookup(sym)
	if !seen {
		if t.nyt == null {
			return fmt.Errorf("%w: %#02x", ErrNYTRetired, sym)
		}
		leaf = t.nyt
	}

	e.path = t.path(leaf, e.path)
	for i := len(e.path) - 1; i >= 0; i-- {
		w.writeBit(uint(e.path[i]))
	}
	if !seen {
		w.writeBits(uint(sym), 8)
	}

	t.update(sym)
	return nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
