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
	"crypto/tls"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"gopkg.in/irc.v3"
)

var ErrNoIRCConfig = errors.New("irc server or nick are not set")

// MAX_IRC_LINE keeps PRIVMSG payloads well below the 512-byte line limit.
const MAX_IRC_LINE = 400

type IRCBot struct {
	Server      string
	TLS         bool
	Nick        string
	Password    string
	ChannelName string

	Script *Script
	Events *Broadcaster

	online bool
	cancel context.CancelFunc

	client *irc.Client
	conn   net.Conn
	mu     *sync.Mutex
}

func NewIRCBot(config *Config, script *Script, events *Broadcaster) *IRCBot {
	return &IRCBot{
		Server:      config.IRCServer,
		TLS:         config.IRCTLS,
		Nick:        config.IRCNick,
		Password:    config.IRCPassword,
		ChannelName: strings.TrimPrefix(config.IRCChannel, "#"),

		Script: script,
		Events: events,
		mu:     new(sync.Mutex),
	}
}

// handleConn runs one connection. When it ends, the relay started with
// it stops too.
func (b *IRCBot) handleConn(ctx context.Context, cancel context.CancelFunc, client *irc.Client, conn net.Conn) {
	err := client.RunContext(ctx)
	if err != nil && ctx.Err() == nil {
		log.Printf("irc: %s", err)
	}
	cancel()
	conn.Close()

	b.mu.Lock()
	if b.conn == conn {
		b.online = false
		b.conn = nil
		b.cancel = nil
	}
	b.mu.Unlock()
}

func (b *IRCBot) Reply(text string) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	b.say(client, text)
}

func (b *IRCBot) say(client *irc.Client, text string) {
	if client == nil {
		log.Printf("irc: offline, dropping reply %q", text)
		return
	}

	b.mu.Lock()
	ch := b.ChannelName
	b.mu.Unlock()

	for _, line := range splitReply(text) {
		client.WriteMessage(&irc.Message{
			Command: "PRIVMSG",
			Params:  []string{"#" + ch, line},
		})
	}
}

// splitReply breaks server output into lines that fit into one PRIVMSG.
func splitReply(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r ")
		for len(line) > MAX_IRC_LINE {
			lines = append(lines, line[:MAX_IRC_LINE])
			line = line[MAX_IRC_LINE:]
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (b *IRCBot) handlePrivmsg(ctx context.Context, from, msg string) []string {
	replies, err := b.Script.ProcessMessage(ctx, from, msg)
	if err != nil {
		log.Printf("irc: %s", err)
	}
	return replies
}

func (b *IRCBot) Handle(c *irc.Client, m *irc.Message) {
	b.mu.Lock()
	ch := b.ChannelName
	b.mu.Unlock()

	if m.Command == "001" {
		// 001 is a welcome event, so we join channels there
		c.Write("JOIN #" + ch)
	} else if m.Command == "PRIVMSG" && c.FromChannel(m) {
		msg := m.Trailing()
		if m.Prefix == nil {
			log.Printf("irc: bogus message: %#v", m)
			return
		}

		for _, reply := range b.handlePrivmsg(context.Background(), m.Prefix.Name, msg) {
			b.Reply(reply)
		}
	}
}

// relay forwards server prints to client until ctx is done.
func (b *IRCBot) relay(ctx context.Context, client *irc.Client, events <-chan Event) {
	// a slow channel drops the subscription, so take a new one
	for ctx.Err() == nil {
		for event := range events {
			if ctx.Err() != nil {
				return
			}
			if event.Kind != "print" {
				continue
			}
			b.say(client, event.Text)
		}
		events = b.Events.Subscribe(ctx)
	}
}

func (b *IRCBot) IsOnline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.online
}

func (b *IRCBot) dial() (net.Conn, error) {
	d := &net.Dialer{Timeout: 10 * time.Second}
	if b.TLS {
		host, _, err := net.SplitHostPort(b.Server)
		if err != nil {
			return nil, err
		}
		return tls.DialWithDialer(d, "tcp", b.Server, &tls.Config{ServerName: host})
	}
	return d.Dial("tcp", b.Server)
}

func (b *IRCBot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.online {
		return nil
	}

	if b.Server == "" || b.Nick == "" {
		return ErrNoIRCConfig
	}

	conn, err := b.dial()
	if err != nil {
		return err
	}

	client := irc.NewClient(conn, irc.ClientConfig{
		Nick:    b.Nick,
		Pass:    b.Password,
		User:    b.Nick,
		Name:    b.Nick,
		Handler: b,
	})

	if b.cancel != nil {
		b.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.client = client
	b.conn = conn
	b.online = true

	go b.handleConn(ctx, cancel, client, conn)
	if b.Events != nil {
		// subscribe before returning so no print after Start is missed
		go b.relay(ctx, client, b.Events.Subscribe(ctx))
	}

	log.Printf("irc: connected to %s as %s", b.Server, b.Nick)
	return nil
}

func (b *IRCBot) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
