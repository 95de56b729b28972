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
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kmeaw/oobclient/huffman"
	"github.com/kmeaw/oobclient/info"
)

type ClientState int

const (
	STATE_DISCONNECTED ClientState = iota
	STATE_CONNECTING
	STATE_CHALLENGING
	STATE_CONNECTED
)

func (s ClientState) String() string {
	switch s {
	case STATE_DISCONNECTED:
		return "disconnected"
	case STATE_CONNECTING:
		return "connecting"
	case STATE_CHALLENGING:
		return "challenging"
	case STATE_CONNECTED:
		return "connected"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

var tracer = otel.Tracer("github.com/kmeaw/oobclient")

var ErrNoChallenge = errors.New("server did not send a challenge")

// ProtocolError is an unexpected reply from the server.
type ProtocolError struct {
	Command string
	Text    string
}

func (e ProtocolError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("server replied %q", e.Command)
	}
	return fmt.Sprintf("server replied %q: %s", e.Command, strings.TrimSpace(e.Text))
}

type Player struct {
	Score int    `json:"score"`
	Ping  int    `json:"ping"`
	Name  string `json:"name"`
}

type ServerStatus struct {
	Info    info.Info `json:"info"`
	Players []Player  `json:"players"`
}

type ClientOpts struct {
	Address  string
	Protocol int
	QPort    int
	Userinfo map[string]string
	Timeout  time.Duration
	Retries  int
	Events   *Broadcaster
}

type Client struct {
	Address  string
	Protocol int
	QPort    int
	Userinfo info.Info
	Timeout  time.Duration
	Retries  int
	Events   *Broadcaster

	state      ClientState
	challenge  int
	lastPrint  string
	lastStatus *ServerStatus
	lastInfo   info.Info

	net  *Net
	mu   *sync.Mutex
	ioMu sync.Mutex
}

func NewClient(opts ClientOpts) *Client {
	c := &Client{
		Address:  opts.Address,
		Protocol: opts.Protocol,
		QPort:    opts.QPort,
		Userinfo: info.New(),
		Timeout:  opts.Timeout,
		Retries:  opts.Retries,
		Events:   opts.Events,
		mu:       new(sync.Mutex),
	}
	for k, v := range opts.Userinfo {
		if err := c.Userinfo.Set(k, v); err != nil {
			log.Printf("ignoring userinfo %q: %s", k, err)
		}
	}
	if c.QPort == 0 {
		c.QPort = rand.Intn(0xffff) + 1
	}
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 1
	}
	return c
}

func NewClientFromConfig(config *Config, events *Broadcaster) *Client {
	ui := map[string]string{
		"name":  config.Name,
		"rate":  strconv.Itoa(config.Rate),
		"snaps": strconv.Itoa(config.Snaps),
	}
	for k, v := range config.Userinfo {
		ui[k] = v
	}

	return NewClient(ClientOpts{
		Address:  config.Address,
		Protocol: config.Protocol,
		QPort:    config.QPort,
		Userinfo: ui,
		Timeout:  config.Timeout(),
		Retries:  config.Retries,
		Events:   events,
	})
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Client) Challenge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.challenge
}

func (c *Client) setState(state ClientState) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()

	if changed {
		c.publish(Event{Kind: "state", State: state.String()})
	}
}

func (c *Client) publish(event Event) {
	if c.Events != nil {
		c.Events.Publish(event)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	n := c.net
	c.net = nil
	c.mu.Unlock()

	c.setState(STATE_DISCONNECTED)
	if n != nil {
		return n.Close()
	}
	return nil
}

// SetAddress points the client at another server, dropping the socket.
func (c *Client) SetAddress(hostport string) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	c.Close()
	c.Address = hostport
}

func (c *Client) dial(ctx context.Context) (*Net, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.net != nil {
		return c.net, nil
	}

	n, err := NewNet(ctx, c.Address, c.Timeout)
	if err != nil {
		return nil, err
	}
	c.net = n
	return n, nil
}

// Connect performs the connectionless handshake: getchallenge, then a
// connect request carrying the compressed userinfo.
func (c *Client) Connect(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "Client.Connect", trace.WithAttributes(
		attribute.String("server.address", c.Address),
		attribute.Int("protocol", c.Protocol),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			connectAttempts.WithLabelValues("error").Inc()
			c.setState(STATE_DISCONNECTED)
		} else {
			connectAttempts.WithLabelValues("ok").Inc()
		}
		span.End()
	}()

	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	c.setState(STATE_CONNECTING)

	c.mu.Lock()
	c.lastPrint = ""
	c.mu.Unlock()

	n, err := c.dial(ctx)
	if err != nil {
		return err
	}

	err = c.getChallenge(ctx, n)
	if err != nil {
		return err
	}
	span.AddEvent("challenge", trace.WithAttributes(attribute.Int("challenge", c.Challenge())))

	return c.doChallenge(ctx, n)
}

func (c *Client) getChallenge(ctx context.Context, n *Net) error {
	for attempt := 0; attempt < c.Retries; attempt++ {
		log.Printf("net: sending getchallenge to %s (attempt %d)", n.Addr, attempt+1)
		if err := n.SendOOBText("getchallenge"); err != nil {
			return err
		}

		for {
			packet, err := n.Receive(ctx)
			if errors.Is(err, ErrTimedOut) {
				break
			}
			if err != nil {
				return err
			}

			if err := c.processPacket(packet); err != nil {
				return err
			}
			if c.State() == STATE_CHALLENGING {
				return nil
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrNoChallenge, c.Retries, ErrTimedOut)
}

func (c *Client) connectInfo() (string, error) {
	ui := info.New()
	for k, v := range c.Userinfo {
		ui[k] = v
	}
	for k, v := range map[string]string{
		"protocol":  strconv.Itoa(c.Protocol),
		"qport":     strconv.Itoa(c.QPort),
		"challenge": strconv.Itoa(c.Challenge()),
	} {
		if err := ui.Set(k, v); err != nil {
			return "", err
		}
	}

	return ui.Quoted()
}

func (c *Client) doChallenge(ctx context.Context, n *Net) error {
	s, err := c.connectInfo()
	if err != nil {
		return err
	}

	enc := huffman.NewEncoder()
	compressed, err := enc.Compress([]byte(s))
	if err != nil {
		return err
	}
	compressionRatio.Observe(float64(len(compressed)) / float64(len(s)))
	log.Printf("net: connect payload %d bytes, compressed to %d (tree %016x)", len(s), len(compressed), enc.Tree().Fingerprint())

	packet := make([]byte, 0, len("connect ")+len(compressed))
	packet = append(packet, "connect "...)
	packet = append(packet, compressed...)
	if err := n.SendOOBData(packet); err != nil {
		return err
	}

	for {
		packet, err := n.Receive(ctx)
		if err != nil {
			return fmt.Errorf("waiting for connectResponse: %w", err)
		}

		if err := c.processPacket(packet); err != nil {
			return err
		}

		switch c.State() {
		case STATE_CONNECTED:
			return nil
		case STATE_DISCONNECTED:
			return ProtocolError{Command: "disconnect"}
		}

		c.mu.Lock()
		text := c.lastPrint
		c.lastPrint = ""
		c.mu.Unlock()
		if text != "" {
			return ProtocolError{Command: "print", Text: text}
		}
	}
}

// Status asks the server for its info string and player list.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	ctx, span := tracer.Start(ctx, "Client.Status", trace.WithAttributes(
		attribute.String("server.address", c.Address),
	))
	defer span.End()

	c.mu.Lock()
	c.lastStatus = nil
	c.mu.Unlock()

	err := c.query(ctx, "getstatus", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.lastStatus != nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.lastStatus
	c.lastStatus = nil
	return status, nil
}

// Info asks for the short server info string.
func (c *Client) Info(ctx context.Context) (info.Info, error) {
	c.mu.Lock()
	c.lastInfo = nil
	c.mu.Unlock()

	err := c.query(ctx, "getinfo "+strconv.Itoa(rand.Int()), func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.lastInfo != nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.lastInfo
	c.lastInfo = nil
	return i, nil
}

func (c *Client) query(ctx context.Context, request string, done func() bool) error {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	n, err := c.dial(ctx)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < c.Retries; attempt++ {
		if err := n.SendOOBText(request); err != nil {
			return err
		}

		for {
			packet, err := n.Receive(ctx)
			if errors.Is(err, ErrTimedOut) {
				break
			}
			if err != nil {
				return err
			}
			if err := c.processPacket(packet); err != nil {
				return err
			}
			if done() {
				return nil
			}
		}
	}

	return fmt.Errorf("%s: %w", request, ErrTimedOut)
}

func (c *Client) processPacket(packet []byte) error {
	if !bytes.HasPrefix(packet, OOB_PREFIX) {
		// sequenced packets need a netchan, which we do not run
		return nil
	}

	return c.processOOBPacket(packet[len(OOB_PREFIX):])
}

func splitCommand(s string) (string, string) {
	idx := strings.IndexAny(s, " \n")
	if idx == -1 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

func (c *Client) processOOBPacket(packet []byte) error {
	text := strings.TrimRight(string(packet), "\x00")
	cmd, rest := splitCommand(text)

	c.publish(Event{Kind: "oob", Text: text})

	switch cmd {
	case "challengeResponse":
		flds := strings.Fields(rest)
		if len(flds) == 0 {
			return ProtocolError{Command: cmd, Text: "missing challenge"}
		}
		challenge, err := strconv.Atoi(flds[0])
		if err != nil {
			return ProtocolError{Command: cmd, Text: err.Error()}
		}

		c.mu.Lock()
		c.challenge = challenge
		c.mu.Unlock()
		log.Printf("net: challenge %d", challenge)
		c.setState(STATE_CHALLENGING)

	case "connectResponse":
		c.setState(STATE_CONNECTED)

	case "disconnect":
		c.setState(STATE_DISCONNECTED)

	case "print":
		c.mu.Lock()
		c.lastPrint += rest
		c.mu.Unlock()
		c.publish(Event{Kind: "print", Text: rest})

	case "statusResponse":
		status, err := parseStatus(rest)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.lastStatus = status
		c.mu.Unlock()

	case "infoResponse":
		i, err := info.Parse(strings.TrimSpace(rest))
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.lastInfo = i
		c.mu.Unlock()

	default:
		log.Printf("net: unhandled OOB command %q", cmd)
	}

	return nil
}

// parseStatus reads an info line followed by one `score ping "name"`
// line per player.
func parseStatus(body string) (*ServerStatus, error) {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")

	i, err := info.Parse(lines[0])
	if err != nil {
		return nil, err
	}

	status := &ServerStatus{Info: i, Players: []Player{}}
	for _, line := range lines[1:] {
		flds := strings.SplitN(line, " ", 3)
		if len(flds) < 3 {
			continue
		}

		var p Player
		if p.Score, err = strconv.Atoi(flds[0]); err != nil {
			return nil, fmt.Errorf("bad player line %q: %w", line, err)
		}
		if p.Ping, err = strconv.Atoi(flds[1]); err != nil {
			return nil, fmt.Errorf("bad player line %q: %w", line, err)
		}
		p.Name = strings.Trim(flds[2], `"`)
		status.Players = append(status.Players, p)
	}

	return status, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
