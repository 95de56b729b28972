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
	"log"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/anko/env"
	"github.com/mattn/anko/vm"

	"github.com/kmeaw/oobclient/huffman"
)

var ErrNoScript = errors.New("script is not loaded")
var ErrUnknownCommand = errors.New("unrecognized command")

const SCRIPT_TIMEOUT = 10 * time.Second

type scriptCall struct {
	ctx     context.Context
	from    string
	replies []string
}

// Script runs chat commands through an anko environment. A message of the
// form "!name a b" calls cmd_name("a", "b").
type Script struct {
	Client *Client
	Rcon   *RconClient
	Events *Broadcaster
	Source string

	e    *env.Env
	call *scriptCall
	mu   *sync.Mutex
}

func NewScript(client *Client, rcon *RconClient, events *Broadcaster) *Script {
	return &Script{
		Client: client,
		Rcon:   rcon,
		Events: events,
		mu:     new(sync.Mutex),
	}
}

func toStrings(list interface{}) []string {
	v := reflect.ValueOf(list)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return []string{fmt.Sprint(list)}
	}

	result := make([]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		result = append(result, fmt.Sprint(v.Index(i).Interface()))
	}
	return result
}

func (s *Script) define(e *env.Env) error {
	var errs []error

	errs = append(errs, e.Define("from", func() string {
		if s.call == nil {
			return ""
		}
		return s.call.from
	}))
	errs = append(errs, e.Define("reply", func(format string, args ...interface{}) {
		text := fmt.Sprintf(format, args...)
		if s.call == nil {
			log.Printf("script: reply outside of a command: %q", text)
			return
		}
		s.call.replies = append(s.call.replies, text)
	}))
	errs = append(errs, e.Define("sprintf", fmt.Sprintf))
	errs = append(errs, e.Define("join", func(list interface{}, sep string) string {
		return strings.Join(toStrings(list), sep)
	}))
	errs = append(errs, e.Define("log", func(format string, args ...interface{}) {
		log.Printf("script: "+format, args...)
	}))
	errs = append(errs, e.Define("rcon", func(cmd string) string {
		if s.Rcon == nil || !s.Rcon.IsOnline() {
			return ""
		}

		ctx, cancel := context.WithTimeout(context.Background(), SCRIPT_TIMEOUT)
		defer cancel()

		out, err := s.Rcon.Command(ctx, cmd)
		if err != nil {
			log.Printf("RCON error: %s", err)
			return ""
		}
		return out
	}))
	errs = append(errs, e.Define("status", func() interface{} {
		if s.Client == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), SCRIPT_TIMEOUT)
		defer cancel()

		st, err := s.Client.Status(ctx)
		if err != nil {
			log.Printf("status error: %s", err)
			return nil
		}
		return st
	}))
	errs = append(errs, e.Define("connect", func() string {
		if s.Client == nil {
			return "no client"
		}

		ctx, cancel := context.WithTimeout(context.Background(), SCRIPT_TIMEOUT)
		defer cancel()

		if err := s.Client.Connect(ctx); err != nil {
			return err.Error()
		}
		return ""
	}))
	errs = append(errs, e.Define("state", func() string {
		if s.Client == nil {
			return STATE_DISCONNECTED.String()
		}
		return s.Client.State().String()
	}))
	errs = append(errs, e.Define("fingerprint", func(text string) string {
		enc := huffman.NewEncoder()
		if _, err := enc.Compress([]byte(text)); err != nil {
			return err.Error()
		}
		return fmt.Sprintf("%016x", enc.Tree().Fingerprint())
	}))
	errs = append(errs, e.Define("forth", func(tokens ...interface{}) interface{} {
		if s.call == nil {
			log.Println("script: forth outside of a command")
			return nil
		}

		out, err := s.evalForth(s.call.ctx, toStrings(tokens)...)
		if err != nil {
			s.call.replies = append(s.call.replies, "error: "+err.Error())
			return nil
		}
		return out
	}))
	errs = append(errs, e.Define("commands", func() []string {
		return s.commands(e)
	}))

	return errors.Join(errs...)
}

// Load replaces the environment with a fresh one running src.
func (s *Script) Load(src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := env.NewEnv()
	if err := s.define(e); err != nil {
		return err
	}

	_, err := vm.Execute(e, nil, src)
	if err != nil {
		return err
	}

	s.e = e
	s.Source = src
	return nil
}

func (s *Script) commands(e *env.Env) (result []string) {
	for _, line := range strings.Split(e.String(), "\n") {
		if strings.HasPrefix(line, "cmd_") {
			kv := strings.SplitN(line, " = ", 2)
			if len(kv) < 2 {
				continue
			}

			result = append(result, strings.TrimPrefix(kv[0], "cmd_"))
		}
	}
	sort.Strings(result)

	return
}

func (s *Script) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.e == nil {
		return nil
	}
	return s.commands(s.e)
}

// ProcessMessage runs the command in msg, if any, and returns the lines it
// replied with. Messages without a leading '!' are ignored.
func (s *Script) ProcessMessage(ctx context.Context, from, msg string) ([]string, error) {
	flds := strings.Fields(msg)
	if len(flds) == 0 || !strings.HasPrefix(flds[0], "!") {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.e == nil {
		return nil, fmt.Errorf("%w, ignoring %q: %q", ErrNoScript, from, msg)
	}

	cmd := flds[0][1:]
	if _, err := s.e.Get("cmd_" + cmd); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	args := make([]string, 0, len(flds)-1)
	for _, arg := range flds[1:] {
		args = append(args, fmt.Sprintf("%q", arg))
	}
	script := fmt.Sprintf("cmd_%s(%s)", cmd, strings.Join(args, ", "))

	ctx, cancel := context.WithTimeout(ctx, SCRIPT_TIMEOUT)
	defer cancel()

	s.call = &scriptCall{ctx: ctx, from: from}
	defer func() { s.call = nil }()

	result, err := vm.ExecuteContext(ctx, s.e, nil, script)
	if err != nil {
		return s.call.replies, fmt.Errorf("cannot execute script %q: %w", script, err)
	}

	// a command may return its answer instead of calling reply
	if text, ok := result.(string); ok && text != "" && len(s.call.replies) == 0 {
		s.call.replies = append(s.call.replies, text)
	}

	if s.Events != nil {
		for _, line := range s.call.replies {
			s.Events.Publish(Event{Kind: "reply", Text: line})
		}
	}

	return s.call.replies, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
