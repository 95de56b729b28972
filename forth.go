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
package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/anko/vm"
)

type Mode int

const (
	MODE_NORMAL Mode = iota
	MODE_IF
	MODE_LITSTR
	MODE_LOOP
)

var ErrBreak = errors.New("break")
var ErrStackUnderflow = errors.New("stack underflow")

const MAX_FORTH_LOOP = 100

func isFalse(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return true
	case bool:
		return !v
	case int64:
		return v == 0
	case string:
		return v == ""
	}
	return false
}

func popInts(stack []interface{}) (int64, int64, []interface{}, error) {
	if len(stack) < 2 {
		return 0, 0, nil, ErrStackUnderflow
	}
	a, ok := stack[0].(int64)
	if !ok {
		return 0, 0, nil, fmt.Errorf("type error: %T is not an integer", stack[0])
	}
	b, ok := stack[1].(int64)
	if !ok {
		return 0, 0, nil, fmt.Errorf("type error: %T is not an integer", stack[1])
	}
	return a, b, stack[2:], nil
}

// evalForth runs a chain of tokens over a stack. "!name;a;b" calls
// cmd_name("a", "b") and pushes its result. The caller holds s.mu.
func (s *Script) evalForth(ctx context.Context, tokens ...string) (interface{}, error) {
	mode := MODE_NORMAL
	next_mode := MODE_NORMAL
	if_level := 0
	loop_level := 0

	stack := []interface{}{}
	counters := []int64{}
	loop_tokens := []string{}
	litstr := ""
	for _, token := range tokens {
		next_mode = mode
		switch mode {
		case MODE_IF:
			switch token {
			case "if":
				if_level += 1
			case "then":
				if_level -= 1
				if if_level == 0 {
					next_mode = MODE_NORMAL
				}
			}
		case MODE_LITSTR:
			if strings.HasSuffix(token, "\"") {
				litstr = litstr + strings.TrimSuffix(token, "\"")
				stack = append([]interface{}{litstr}, stack...)
				litstr = ""
				next_mode = MODE_NORMAL
			} else {
				litstr = litstr + token + " "
			}
		case MODE_LOOP:
			switch token {
			case "times":
				loop_level += 1
				loop_tokens = append(loop_tokens, token)
			case "loop":
				if loop_level > 0 {
					loop_level -= 1
					loop_tokens = append(loop_tokens, token)
					break
				}

				var out interface{}
				var err error

				counter := counters[0]
				counters = counters[1:]
				for i := int64(0); i < counter; i++ {
					out, err = s.evalForth(ctx, loop_tokens...)
					if errors.Is(err, ErrBreak) {
						break
					}
					if err != nil {
						return nil, err
					}
				}
				loop_tokens = nil
				stack = append([]interface{}{out}, stack...)
				next_mode = MODE_NORMAL
			default:
				loop_tokens = append(loop_tokens, token)
			}
		}
		if mode != MODE_NORMAL {
			mode = next_mode
			continue
		}

		switch token {
		case "":
			// no-op
		case "drop":
			if len(stack) == 0 {
				return nil, ErrStackUnderflow
			}
			stack = stack[1:]
		case "dup":
			if len(stack) == 0 {
				return nil, ErrStackUnderflow
			}
			stack = append([]interface{}{stack[0]}, stack...)
		case "if":
			if len(stack) == 0 {
				return nil, ErrStackUnderflow
			}
			top := stack[0]
			stack = stack[1:]
			if isFalse(top) {
				if_level = 1
				mode = MODE_IF
			}
		case "then":
			// reached from a taken branch
		case "break":
			return nil, ErrBreak
		case "not":
			if len(stack) == 0 {
				return nil, ErrStackUnderflow
			}
			stack[0] = isFalse(stack[0])
		case "reply":
			if len(stack) == 0 {
				return nil, ErrStackUnderflow
			}
			top := stack[0]
			stack = stack[1:]
			if s.call != nil {
				s.call.replies = append(s.call.replies, fmt.Sprint(top))
			}
		case "\"":
			mode = MODE_LITSTR
		case "times":
			if len(stack) == 0 {
				return nil, ErrStackUnderflow
			}
			top := stack[0]
			stack = stack[1:]
			counter, ok := top.(int64)
			if !ok {
				return nil, fmt.Errorf("type error: %T, expected int64", top)
			}

			if counter < 0 || counter > MAX_FORTH_LOOP {
				return nil, fmt.Errorf("times domain error: %d", counter)
			}

			counters = append([]int64{counter}, counters...)
			mode = MODE_LOOP
		case "+":
			a, b, rest, err := popInts(stack)
			if err != nil {
				return nil, err
			}
			stack = append([]interface{}{b + a}, rest...)
		case ">":
			a, b, rest, err := popInts(stack)
			if err != nil {
				return nil, err
			}
			stack = append([]interface{}{b > a}, rest...)
		case "=":
			if len(stack) < 2 {
				return nil, ErrStackUnderflow
			}
			a := fmt.Sprintf("%v", stack[0])
			b := fmt.Sprintf("%v", stack[1])
			stack = append([]interface{}{a == b}, stack[2:]...)
		default:
			if token[0] == '!' {
				cmd_tokens := strings.Split(token[1:], ";")
				args := make([]string, 0, len(cmd_tokens)-1)
				for _, arg := range cmd_tokens[1:] {
					args = append(args, fmt.Sprintf("%q", arg))
				}
				if _, err := s.e.Get("cmd_" + cmd_tokens[0]); err != nil {
					return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd_tokens[0])
				}
				script := fmt.Sprintf("cmd_%s(%s)", cmd_tokens[0], strings.Join(args, ", "))
				result, err := vm.ExecuteContext(ctx, s.e, nil, script)
				if err != nil {
					return nil, fmt.Errorf("cannot execute script %q: %w", script, err)
				}
				stack = append([]interface{}{result}, stack...)
			} else {
				n, err := strconv.ParseInt(token, 0, 64)
				if err != nil {
					return nil, fmt.Errorf("unrecognized token: %q", token)
				}

				stack = append([]interface{}{n}, stack...)
			}
		}
	}

	if mode != MODE_NORMAL {
		return nil, fmt.Errorf("unterminated %s", map[Mode]string{
			MODE_IF:     "if",
			MODE_LITSTR: "string",
			MODE_LOOP:   "loop",
		}[mode])
	}

	if len(stack) > 0 {
		return stack[0], nil
	}
	return nil, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
