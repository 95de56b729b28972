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

// Package huffman implements the adaptive Huffman code used by id Tech 3
// derived game servers for connectionless payloads.
//
// A compressed message is a big-endian 16-bit symbol count followed by
// the code bits packed LSB-first. Encoder and decoder start from a lone
// NYT ("not yet transmitted") leaf and grow identical trees as symbols
// pass through them, so nothing but the bits has to be exchanged.
package huffman

import (
	"errors"
	"fmt"
)

// MaxLength is the longest input the 16-bit header can describe.
const MaxLength = 0xffff

// DefaultWeightLimit is the root weight at which a tree halves its
// weights. A single message never reaches it.
const DefaultWeightLimit = 1 << 16

var (
	ErrTooLong      = errors.New("huffman: input longer than 65535 bytes")
	ErrOutOfBits    = errors.New("huffman: out of bits")
	ErrTruncated    = errors.New("huffman: truncated stream")
	ErrTrailingData = errors.New("huffman: trailing data after last symbol")
	ErrCorrupt      = errors.New("huffman: corrupt stream")
	ErrNYTRetired   = errors.New("huffman: unseen symbol after NYT was retired")
	ErrPoisoned     = errors.New("huffman: codec failed earlier")
)

type options struct {
	weightLimit int
}

// Option tunes an Encoder or a Decoder. Both ends of a stream must be
// built with the same options.
type Option func(*options)

// WithWeightLimit sets the root weight that triggers a rescale.
// Zero or less disables rescaling.
func WithWeightLimit(n int) Option {
	return func(o *options) {
		o.weightLimit = n
	}
}

func buildOptions(opts []Option) options {
	o := options{
		weightLimit: DefaultWeightLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Compress encodes data with a fresh tree.
func Compress(data []byte) ([]byte, error) {
	return NewEncoder().Compress(data)
}

// Decompress decodes data with a fresh tree.
func Decompress(data []byte) ([]byte, error) {
	return NewDecoder().Decompress(data)
}

// CompressOffset keeps the first offset bytes of msg as they are and
// compresses the rest, the way a client frames "connect" requests.
func CompressOffset(msg []byte, offset int) ([]byte, error) {
	if offset < 0 || offset > len(msg) {
		return nil, fmt.Errorf("huffman: offset %d out of range [0, %d]", offset, len(msg))
	}

	body, err := Compress(msg[offset:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, offset+len(body))
	out = append(out, msg[:offset]...)
	return append(out, body...), nil
}

// DecompressOffset is the inverse of CompressOffset.
func DecompressOffset(msg []byte, offset int) ([]byte, error) {
	if offset < 0 || offset > len(msg) {
		return nil, fmt.Errorf("huffman: offset %d out of range [0, %d]", offset, len(msg))
	}

	body, err := Decompress(msg[offset:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, offset+len(body))
	out = append(out, msg[:offset]...)
	return append(out, body...), nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
