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

// Package info reads and writes backslash-separated key/value strings
// ("\name\player\rate\25000") as used in connect requests and server
// status replies.
package info

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxInfoString is the longest info string a server accepts.
const MaxInfoString = 1024

var (
	ErrBadChar   = errors.New("info: key or value contains a reserved character")
	ErrMalformed = errors.New("info: odd number of fields")
	ErrTooLong   = errors.New("info: string too long")
)

type Info map[string]string

func New() Info {
	return make(Info)
}

func (i Info) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrBadChar)
	}
	for _, s := range []string{key, value} {
		if strings.ContainsAny(s, "\\\";") {
			return fmt.Errorf("%w: %q", ErrBadChar, s)
		}
	}

	i[key] = value
	return nil
}

func (i Info) Get(key string) string {
	return i[key]
}

func (i Info) Delete(key string) {
	delete(i, key)
}

func (i Info) Keys() []string {
	keys := make([]string, 0, len(i))
	for k := range i {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String joins the pairs sorted by key, so equal maps serialize equally.
func (i Info) String() string {
	b := &strings.Builder{}
	for _, k := range i.Keys() {
		b.WriteByte('\\')
		b.WriteString(k)
		b.WriteByte('\\')
		b.WriteString(i[k])
	}
	return b.String()
}

// Quoted is the form carried by a connect request.
func (i Info) Quoted() (string, error) {
	s := `"` + i.String() + `"`
	if len(s) > MaxInfoString {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLong, len(s))
	}
	return s, nil
}

// Parse splits s into pairs. Surrounding quotes and a leading backslash
// are optional; later duplicates win.
func Parse(s string) (Info, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = strings.TrimPrefix(s, "\\")

	i := New()
	if s == "" {
		return i, nil
	}

	flds := strings.Split(s, "\\")
	if len(flds)%2 != 0 {
		return nil, fmt.Errorf("%w: %d fields in %q", ErrMalformed, len(flds), s)
	}
	for n := 0; n < len(flds); n += 2 {
		i[flds[n]] = flds[n+1]
	}

	return i, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
