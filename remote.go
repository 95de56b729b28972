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
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

var ErrNoRemote = errors.New("remote url is not set")

// Remote keeps a websocket to a control hub: it pushes client events and
// runs the commands the hub sends back through the script.
type Remote struct {
	Location *url.URL
	Token    string
	Script   *Script
	Events   *Broadcaster

	conn *websocket.Conn
	mu   sync.Mutex
}

// RemoteEvent is one message in either direction.
type RemoteEvent struct {
	Origin   string   `json:"origin,omitempty"`
	Receiver string   `json:"receiver,omitempty"`
	Command  string   `json:"command,omitempty"`
	Replies  []string `json:"replies,omitempty"`
	Event    *Event   `json:"event,omitempty"`
	Commands []string `json:"commands,omitempty"`
}

func NewRemote(config *Config, script *Script, events *Broadcaster) (*Remote, error) {
	if config.RemoteURL == "" {
		return nil, ErrNoRemote
	}

	location, err := url.Parse(config.RemoteURL)
	if err != nil {
		return nil, err
	}

	return &Remote{
		Location: location,
		Token:    config.RemoteToken,
		Script:   script,
		Events:   events,
	}, nil
}

func (r *Remote) connectOnce() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	location := *r.Location
	if r.Token != "" {
		q := location.Query()
		q.Set("auth", r.Token)
		location.RawQuery = q.Encode()
	}

	origin := &url.URL{Scheme: "http", Host: location.Host}
	if location.Scheme == "wss" {
		origin.Scheme = "https"
	}

	conn, err := websocket.DialConfig(&websocket.Config{
		Location: &location,
		Origin:   origin,
		Dialer: &net.Dialer{
			Timeout: 10 * time.Second,
		},
		Version: websocket.ProtocolVersionHybi13,
	})
	if err != nil {
		return err
	}

	r.conn = conn
	return websocket.JSON.Send(conn, RemoteEvent{Commands: r.Script.Commands()})
}

func (r *Remote) send(event RemoteEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return net.ErrClosed
	}
	return websocket.JSON.Send(r.conn, event)
}

// writeLoop pushes client events and keepalives until the socket fails.
// A failed write cancels ctx so the read side stops as well.
func (r *Remote) writeLoop(ctx context.Context, cancel context.CancelFunc) error {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()

	var events <-chan Event
	if r.Events != nil {
		events = r.Events.Subscribe(ctx)
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			err = r.send(RemoteEvent{})
		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				events = r.Events.Subscribe(ctx)
				continue
			}
			err = r.send(RemoteEvent{Event: &event})
		}
		if err != nil {
			log.Printf("ws: write loop failed: %s", err)
			cancel()
			return err
		}
	}
}

func (r *Remote) readLoop(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		panic("not connected")
	}

	dec := json.NewDecoder(conn)
	for {
		event := RemoteEvent{}
		err := dec.Decode(&event)
		if err != nil {
			return err
		}

		if event.Command == "" {
			continue
		}
		log.Printf("ws: %s runs %q", event.Origin, event.Command)

		replies, err := r.Script.ProcessMessage(ctx, event.Origin, "!"+event.Command)
		if err != nil {
			log.Println(err)
		}
		if len(replies) == 0 {
			continue
		}

		err = r.send(RemoteEvent{Receiver: event.Origin, Replies: replies})
		if err != nil {
			return err
		}
	}
}

// Run reconnects every five seconds until ctx is done.
func (r *Remote) Run(ctx context.Context) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()

	for ctx.Err() == nil {
		err := r.connectOnce()
		if err != nil {
			log.Printf("ws: connect to %s failed: %s", r.Location, err)
		} else {
			log.Printf("ws: connected to %s", r.Location)

			cctx, cancel := context.WithCancel(ctx)
			r.mu.Lock()
			conn := r.conn
			r.mu.Unlock()
			context.AfterFunc(cctx, func() {
				conn.Close()
			})
			go r.writeLoop(cctx, cancel)

			err = r.readLoop(cctx)
			if err != nil && ctx.Err() == nil {
				log.Printf("ws: read error: %s", err)
			}
			cancel()

			r.mu.Lock()
			r.conn = nil
			r.mu.Unlock()
		}

		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
