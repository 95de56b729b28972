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

// symtab maps every byte value and the NYT pseudo-symbol to its leaf.
type symtab struct {
	leaves [numSymbols + 1]ref
	bound  int
}

func (s *symtab) reset() {
	for i := range s.leaves {
		s.leaves[i] = null
	}
	s.bound = 0
}

func (s *symtab) lookup(sym int) (ref, bool) {
	leaf := s.leaves[sym]
	return leaf, leaf != null
}

func (s *symtab) bind(sym int, leaf ref) {
	if s.leaves[sym] != null {
		panic(fmt.Sprintf("huffman: symbol %d is already bound to node %d", sym, s.leaves[sym]))
	}
	s.leaves[sym] = leaf
	if sym != symNYT {
		s.bound++
	}
}

// unbindNYT is the only removal the table supports.
func (s *symtab) unbindNYT() {
	s.leaves[symNYT] = null
}

// vim: ai:ts=8:sw=8:noet:syntax=go
