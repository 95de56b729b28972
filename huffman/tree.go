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
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	numSymbols  = 256
	symNYT      = numSymbols
	symInternal = numSymbols + 1

	// 256 symbol leaves, NYT and one internal node per merge.
	arenaSize = 2 * (numSymbols + 1)
)

// ref addresses a node slot in the arena or a block cell.
type ref int16

const null ref = -1

type node struct {
	weight int
	symbol int

	parent, left, right ref
	next, prev          ref

	// head is a cell index; cells[head] is the last node of this
	// node's weight run in list order.
	head ref
}

// Tree is an adaptive Huffman code tree. Nodes live in a fixed arena and
// are additionally threaded on a list ordered by non-decreasing weight,
// which is what keeps the sibling property cheap to maintain.
//
// A Tree is owned by one Encoder or Decoder and is not safe for
// concurrent use.
type Tree struct {
	nodes [arenaSize]node
	used  int

	cells []ref
	free  []ref

	root  ref
	first ref
	nyt   ref
	syms  symtab

	limit int
}

func newTree(limit int) *Tree {
	t := &Tree{limit: limit}
	t.clear()
	t.nyt = t.alloc(symNYT, 0)
	t.root, t.first = t.nyt, t.nyt
	t.nodes[t.nyt].head = t.newCell(t.nyt)
	t.syms.bind(symNYT, t.nyt)
	return t
}

func (t *Tree) clear() {
	t.used = 0
	t.cells = t.cells[:0]
	t.free = t.free[:0]
	t.root, t.first, t.nyt = null, null, null
	t.syms.reset()
}

func (t *Tree) alloc(sym, weight int) ref {
	if t.used == arenaSize {
		panic("huffman: node arena exhausted")
	}
	r := ref(t.used)
	t.used++
	t.nodes[r] = node{
		weight: weight,
		symbol: sym,
		parent: null,
		left:   null,
		right:  null,
		next:   null,
		prev:   null,
		head:   null,
	}
	return r
}

func (t *Tree) newCell(leader ref) ref {
	if n := len(t.free); n > 0 {
		c := t.free[n-1]
		t.free = t.free[:n-1]
		t.cells[c] = leader
		return c
	}
	t.cells = append(t.cells, leader)
	return ref(len(t.cells) - 1)
}

func (t *Tree) releaseCell(c ref) {
	t.cells[c] = null
	t.free = append(t.free, c)
}

// update accounts for one more occurrence of sym. Encoder and decoder
// call it with the same symbol sequence, which keeps their trees equal.
func (t *Tree) update(sym int) {
	if leaf, ok := t.syms.lookup(sym); ok {
		t.increment(leaf)
	} else {
		t.addSymbol(sym)
		if t.syms.bound == numSymbols {
			t.retireNYT()
		}
	}

	if t.limit > 0 && t.nodes[t.root].weight >= t.limit {
		t.rescale()
	}
}

// addSymbol turns the NYT leaf into the left child of a new internal node
// whose right child is the leaf for sym. Both new nodes have weight 1 and
// enter the list right after NYT.
func (t *Tree) addSymbol(sym int) {
	z := t.nyt
	p := t.alloc(symInternal, 1)
	l := t.alloc(sym, 1)
	zn, pn, ln := &t.nodes[z], &t.nodes[p], &t.nodes[l]

	after := zn.next
	pn.next = after
	if after != null {
		t.nodes[after].prev = p
		if t.nodes[after].weight == 1 {
			pn.head = t.nodes[after].head
		} else {
			pn.head = t.newCell(p)
		}
	} else {
		pn.head = t.newCell(p)
	}
	pn.prev = l
	ln.next = p
	ln.prev = z
	ln.head = pn.head
	zn.next = l

	parent := zn.parent
	if parent != null {
		if t.nodes[parent].left == z {
			t.nodes[parent].left = p
		} else {
			t.nodes[parent].right = p
		}
	} else {
		t.root = p
	}
	pn.parent = parent
	pn.left = z
	pn.right = l
	zn.parent = p
	ln.parent = p

	t.syms.bind(sym, l)
	t.increment(parent)
}

// increment raises the weight of n by one and propagates to the root.
// The swap with the run leader and the head bookkeeping must happen
// before the weight changes, the run re-join and the parent fix-up after.
func (t *Tree) increment(n ref) {
	if n == null {
		return
	}
	nd := &t.nodes[n]

	if nd.next != null && t.nodes[nd.next].weight == nd.weight {
		leader := t.cells[nd.head]
		if leader != nd.parent {
			t.swap(leader, n)
		}
		t.swapList(leader, n)
	}

	if nd.prev != null && t.nodes[nd.prev].weight == nd.weight {
		t.cells[nd.head] = nd.prev
	} else {
		t.releaseCell(nd.head)
	}

	nd.weight++

	if nd.next != null && t.nodes[nd.next].weight == nd.weight {
		nd.head = t.nodes[nd.next].head
	} else {
		nd.head = t.newCell(n)
	}

	if nd.parent != null {
		t.increment(nd.parent)
		if nd.prev == nd.parent {
			t.swapList(n, nd.parent)
			if t.cells[nd.head] == n {
				t.cells[nd.head] = nd.parent
			}
		}
	}
}

// swap exchanges the tree positions of a and b. Children of one parent
// are relinked in place, so for siblings the outcome depends on which
// side a sits; reference servers do the same and the codes must match.
func (t *Tree) swap(a, b ref) {
	pa, pb := t.nodes[a].parent, t.nodes[b].parent

	if pa != null {
		if t.nodes[pa].left == a {
			t.nodes[pa].left = b
		} else {
			t.nodes[pa].right = b
		}
	} else {
		t.root = b
	}

	if pb != null {
		if t.nodes[pb].left == b {
			t.nodes[pb].left = a
		} else {
			t.nodes[pb].right = a
		}
	} else {
		t.root = a
	}

	t.nodes[a].parent = pb
	t.nodes[b].parent = pa
}

// swapList exchanges the list positions of a and b, adjacent or not.
func (t *Tree) swapList(a, b ref) {
	an, bn := &t.nodes[a], &t.nodes[b]

	an.next, bn.next = bn.next, an.next
	an.prev, bn.prev = bn.prev, an.prev

	if an.next == a {
		an.next = b
	}
	if bn.next == b {
		bn.next = a
	}
	if an.next != null {
		t.nodes[an.next].prev = a
	}
	if bn.next != null {
		t.nodes[bn.next].prev = b
	}
	if an.prev != null {
		t.nodes[an.prev].next = a
	} else {
		t.first = a
	}
	if bn.prev != null {
		t.nodes[bn.prev].next = b
	} else {
		t.first = b
	}
}

func (t *Tree) unlink(n ref) {
	nd := &t.nodes[n]
	if nd.prev != null {
		t.nodes[nd.prev].next = nd.next
	} else {
		t.first = nd.next
	}
	if nd.next != null {
		t.nodes[nd.next].prev = nd.prev
	}
	nd.next, nd.prev = null, null
}

// retireNYT drops the NYT leaf once every byte value has a leaf of its
// own. Its sibling takes the place of their parent in the tree and in
// the list; the parent has the sibling's weight, so the order holds.
func (t *Tree) retireNYT() {
	z := t.nyt
	p := t.nodes[z].parent
	s := t.nodes[p].left
	if s == z {
		s = t.nodes[p].right
	}

	gp := t.nodes[p].parent
	if gp != null {
		if t.nodes[gp].left == p {
			t.nodes[gp].left = s
		} else {
			t.nodes[gp].right = s
		}
	} else {
		t.root = s
	}
	t.nodes[s].parent = gp

	t.unlink(z)
	t.unlink(s)
	pn, sn := &t.nodes[p], &t.nodes[s]
	sn.prev, sn.next = pn.prev, pn.next
	if sn.prev != null {
		t.nodes[sn.prev].next = s
	} else {
		t.first = s
	}
	if sn.next != null {
		t.nodes[sn.next].prev = s
	}

	t.nodes[z] = node{symbol: symInternal, parent: null, left: null, right: null, next: null, prev: null, head: null}
	t.nodes[p] = t.nodes[z]
	t.nyt = null
	t.syms.unbindNYT()
	t.relinkCells()
}

// rescale halves every leaf weight (rounding up, so seen symbols keep a
// non-zero weight) and rebuilds the tree bottom-up with the two-queue
// Huffman construction. Merging in that order yields the nodes in
// non-decreasing weight with siblings adjacent, which is the list.
func (t *Tree) rescale() {
	type leaf struct {
		sym, weight int
	}

	leaves := make([]leaf, 0, numSymbols+1)
	for n := t.first; n != null; n = t.nodes[n].next {
		nd := &t.nodes[n]
		if nd.symbol != symInternal {
			leaves = append(leaves, leaf{nd.symbol, (nd.weight + 1) / 2})
		}
	}

	t.clear()

	queue := make([]ref, 0, len(leaves))
	for _, l := range leaves {
		r := t.alloc(l.sym, l.weight)
		if l.sym == symNYT {
			t.nyt = r
		}
		t.syms.bind(l.sym, r)
		queue = append(queue, r)
	}

	merged := make([]ref, 0, len(leaves))
	order := make([]ref, 0, 2*len(leaves))
	var qi, mi int
	take := func() ref {
		var r ref
		if qi < len(queue) && (mi >= len(merged) || t.nodes[queue[qi]].weight <= t.nodes[merged[mi]].weight) {
			r = queue[qi]
			qi++
		} else {
			r = merged[mi]
			mi++
		}
		order = append(order, r)
		return r
	}

	for (len(queue)-qi)+(len(merged)-mi) > 1 {
		a := take()
		b := take()
		p := t.alloc(symInternal, t.nodes[a].weight+t.nodes[b].weight)
		t.nodes[p].left, t.nodes[p].right = a, b
		t.nodes[a].parent, t.nodes[b].parent = p, p
		merged = append(merged, p)
	}
	t.root = take()

	prev := null
	for _, r := range order {
		t.nodes[r].prev = prev
		if prev != null {
			t.nodes[prev].next = r
		}
		prev = r
	}
	t.first = order[0]
	t.relinkCells()
}

// relinkCells rebuilds the run cells from scratch by walking the list.
func (t *Tree) relinkCells() {
	t.cells = t.cells[:0]
	t.free = t.free[:0]

	for n := t.first; n != null; {
		c := t.newCell(null)
		w := t.nodes[n].weight
		last := n
		for ; n != null && t.nodes[n].weight == w; n = t.nodes[n].next {
			t.nodes[n].head = c
			last = n
		}
		t.cells[c] = last
	}
}

// path collects the edges from leaf up to the root into buf, deepest
// first: 1 for a right child, 0 for a left one.
func (t *Tree) path(leaf ref, buf []byte) []byte {
	buf = buf[:0]
	for n := leaf; t.nodes[n].parent != null; n = t.nodes[n].parent {
		if t.nodes[t.nodes[n].parent].right == n {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// Weight is the number of symbols the tree has accounted for since its
// last rescale.
func (t *Tree) Weight() int {
	return t.nodes[t.root].weight
}

// Symbols is the number of distinct byte values seen so far.
func (t *Tree) Symbols() int {
	return t.syms.bound
}

// Fingerprint hashes the tree shape, the weights and the list order.
// Two trees that will produce the same codes from now on have equal
// fingerprints.
func (t *Tree) Fingerprint() uint64 {
	var ids [arenaSize]int
	var buf [10]byte

	h := xxhash.New()
	id := 0
	stack := []ref{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		nd := &t.nodes[n]
		ids[n] = id
		id++
		binary.BigEndian.PutUint16(buf[0:2], uint16(nd.symbol))
		binary.BigEndian.PutUint64(buf[2:10], uint64(nd.weight))
		h.Write(buf[:])

		if nd.right != null {
			stack = append(stack, nd.right, nd.left)
		}
	}

	for n := t.first; n != null; n = t.nodes[n].next {
		binary.BigEndian.PutUint16(buf[0:2], uint16(ids[n]))
		h.Write(buf[:2])
	}

	return h.Sum64()
}

// Validate checks the structural invariants: parent and child links
// agree, internal weights are the sums of their children, the list holds
// every node in non-decreasing weight order, each weight run shares one
// cell naming its last node, and the symbol table points at the leaves.
func (t *Tree) Validate() error {
	if t.root == null {
		return fmt.Errorf("huffman: no root")
	}
	if p := t.nodes[t.root].parent; p != null {
		return fmt.Errorf("huffman: root %d has parent %d", t.root, p)
	}

	var seen [arenaSize]bool
	reachable := 0
	leaves := 0
	stack := []ref{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[n] {
			return fmt.Errorf("huffman: node %d reached twice", n)
		}
		seen[n] = true
		reachable++

		nd := &t.nodes[n]
		if nd.symbol == symInternal {
			if nd.left == null || nd.right == null {
				return fmt.Errorf("huffman: internal node %d lacks a child", n)
			}
			for _, c := range []ref{nd.left, nd.right} {
				if t.nodes[c].parent != n {
					return fmt.Errorf("huffman: node %d is a child of %d but points at %d", c, n, t.nodes[c].parent)
				}
			}
			if sum := t.nodes[nd.left].weight + t.nodes[nd.right].weight; sum != nd.weight {
				return fmt.Errorf("huffman: internal node %d weighs %d, children sum to %d", n, nd.weight, sum)
			}
			stack = append(stack, nd.left, nd.right)
			continue
		}

		if nd.left != null || nd.right != null {
			return fmt.Errorf("huffman: leaf %d has children", n)
		}
		if leaf, ok := t.syms.lookup(nd.symbol); !ok || leaf != n {
			return fmt.Errorf("huffman: leaf %d for symbol %d is not in the symbol table", n, nd.symbol)
		}
		if nd.symbol == symNYT {
			if n != t.nyt || nd.weight != 0 {
				return fmt.Errorf("huffman: stray NYT leaf %d with weight %d", n, nd.weight)
			}
			continue
		}
		leaves++
	}

	if leaves != t.syms.bound {
		return fmt.Errorf("huffman: %d symbol leaves, %d symbols bound", leaves, t.syms.bound)
	}
	if t.nyt != null && !seen[t.nyt] {
		return fmt.Errorf("huffman: NYT leaf %d is detached", t.nyt)
	}

	listed := 0
	prev := null
	for n := t.first; n != null; n = t.nodes[n].next {
		nd := &t.nodes[n]
		if !seen[n] {
			return fmt.Errorf("huffman: listed node %d is not in the tree", n)
		}
		if nd.prev != prev {
			return fmt.Errorf("huffman: node %d has prev %d, want %d", n, nd.prev, prev)
		}
		if prev != null && t.nodes[prev].weight > nd.weight {
			return fmt.Errorf("huffman: list order broken at node %d (%d > %d)", n, t.nodes[prev].weight, nd.weight)
		}
		if nd.head < 0 || int(nd.head) >= len(t.cells) {
			return fmt.Errorf("huffman: node %d has no cell", n)
		}
		if nd.next == null || t.nodes[nd.next].weight != nd.weight {
			if t.cells[nd.head] != n {
				return fmt.Errorf("huffman: run ending at node %d has leader %d", n, t.cells[nd.head])
			}
		} else if t.nodes[nd.next].head != nd.head {
			return fmt.Errorf("huffman: nodes %d and %d share weight %d but not a cell", n, nd.next, nd.weight)
		}
		prev = n
		listed++
		if listed > reachable {
			break
		}
	}
	if listed != reachable {
		return fmt.Errorf("huffman: %d nodes listed, %d in the tree", listed, reachable)
	}

	return nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
