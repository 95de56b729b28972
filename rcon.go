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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

var ErrRconOffline = errors.New("rcon is not connected")
var ErrNoPassword = errors.New("rcon password is not set")

// RCON_QUIET is how long Command keeps listening after the last reply.
const RCON_QUIET = 250 * time.Millisecond

type RconClient struct {
	Addr     string
	Password string
	Timeout  time.Duration

	net *Net
	mu  *sync.Mutex
}

func NewRconClient(timeout time.Duration) *RconClient {
	return &RconClient{
		Timeout: timeout,
		mu:      new(sync.Mutex),
	}
}

func (c *RconClient) Connect(ctx context.Context, hostport, password string) error {
	if password == "" {
		return ErrNoPassword
	}

	n, err := NewNet(ctx, hostport, c.Timeout)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.net != nil {
		c.net.Close()
	}
	c.Addr = hostport
	c.Password = password
	c.net = n
	log.Printf("rcon: using %s", n.Addr)

	return nil
}

func (c *RconClient) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.net != nil
}

func (c *RconClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.net == nil {
		return nil
	}
	err := c.net.Close()
	c.net = nil
	return err
}

// Command sends one rcon line and returns the concatenated print replies.
// A command that produces no output yields an empty string.
func (c *RconClient) Command(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.net == nil {
		return "", ErrRconOffline
	}

	err := c.net.SendOOBText(fmt.Sprintf("rcon %s %s", c.Password, cmd))
	if err != nil {
		return "", err
	}

	var out strings.Builder
	wait := c.net.Timeout
	for {
		packet, err := c.net.receive(ctx, wait)
		if errors.Is(err, ErrTimedOut) {
			break
		}
		if err != nil {
			return out.String(), err
		}

		if !bytes.HasPrefix(packet, OOB_PREFIX) {
			continue
		}
		text, ok := strings.CutPrefix(string(packet[len(OOB_PREFIX):]), "print\n")
		if !ok {
			continue
		}
		out.WriteString(strings.TrimRight(text, "\x00"))

		wait = RCON_QUIET
	}

	if strings.HasPrefix(out.String(), "Bad rconpassword.") {
		return "", ProtocolError{Command: "print", Text: out.String()}
	}

	return out.String(), nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
