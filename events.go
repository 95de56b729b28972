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
	"sync"
	"time"
)

const EVENT_BACKLOG = 64

type Event struct {
	Seq   uint64    `json:"seq"`
	Time  time.Time `json:"time"`
	Kind  string    `json:"kind"`
	Text  string    `json:"text,omitempty"`
	State string    `json:"state,omitempty"`
}

// Broadcaster fans client events out to any number of subscribers.
// A subscriber that stalls for a second is dropped.
type Broadcaster struct {
	events []Event
	seq    uint64
	mu     *sync.Mutex
	cv     *sync.Cond
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{}
	b.mu = new(sync.Mutex)
	b.cv = sync.NewCond(b.mu)
	return b
}

func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	b.seq++
	event.Seq = b.seq
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	b.events = append(b.events, event)
	if len(b.events) > EVENT_BACKLOG {
		b.events = b.events[len(b.events)-EVENT_BACKLOG:]
	}
	b.mu.Unlock()

	b.cv.Broadcast()
}

// Recent returns up to n of the latest events, oldest first.
func (b *Broadcaster) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.events) {
		n = len(b.events)
	}
	return append([]Event(nil), b.events[len(b.events)-n:]...)
}

// pending returns the events after seq. The caller holds mu.
func (b *Broadcaster) pending(seq uint64) []Event {
	for i, event := range b.events {
		if event.Seq > seq {
			return append([]Event(nil), b.events[i:]...)
		}
	}
	return nil
}

// Subscribe delivers events published after the call until ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event)

	b.mu.Lock()
	last := b.seq
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.mu.Unlock()
		b.cv.Broadcast()
	})

	go func() {
		defer close(ch)
		defer stop()

		for {
			b.mu.Lock()
			var events []Event
			for ctx.Err() == nil {
				events = b.pending(last)
				if len(events) > 0 {
					break
				}
				b.cv.Wait()
			}
			b.mu.Unlock()

			if ctx.Err() != nil {
				return
			}

			for _, event := range events {
				t := time.NewTimer(time.Second)
				select {
				case <-t.C:
					// stalled
					return
				case <-ctx.Done():
					t.Stop()
					return
				case ch <- event:
					t.Stop()
				}
				last = event.Seq
			}
		}
	}()

	return ch
}

// vim: ai:ts=8:sw=8:noet:syntax=go
