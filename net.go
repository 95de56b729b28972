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
	"net"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const BUFFER_SIZE = 1400
const DEFAULT_PORT = "27960"

var OOB_PREFIX = []byte{0xff, 0xff, 0xff, 0xff}

var ErrTimedOut = errors.New("timed out")

var addrCache *lru.Cache[string, *net.UDPAddr]

func init() {
	var err error
	addrCache, err = lru.New[string, *net.UDPAddr](64)
	if err != nil {
		panic(err)
	}
}

func resolveUDPAddr(hostport string) (*net.UDPAddr, error) {
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		hostport = net.JoinHostPort(hostport, DEFAULT_PORT)
	}

	if addr, ok := addrCache.Get(hostport); ok {
		return addr, nil
	}

	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, err
	}

	addrCache.Add(hostport, addr)
	return addr, nil
}

// Net is a UDP socket talking to one game server.
type Net struct {
	Addr    *net.UDPAddr
	Timeout time.Duration

	conn net.PacketConn
}

func NewNet(ctx context.Context, hostport string, timeout time.Duration) (*Net, error) {
	addr, err := resolveUDPAddr(hostport)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %q: %w", hostport, err)
	}

	lc := net.ListenConfig{Control: setSocketBuffers}
	conn, err := lc.ListenPacket(ctx, "udp", ":0")
	if err != nil {
		return nil, err
	}

	return &Net{
		Addr:    addr,
		Timeout: timeout,
		conn:    conn,
	}, nil
}

func (n *Net) Close() error {
	return n.conn.Close()
}

func (n *Net) SendOOBText(message string) error {
	return n.SendOOBData([]byte(message))
}

func (n *Net) SendOOBData(data []byte) error {
	packet := make([]byte, 0, len(OOB_PREFIX)+len(data))
	packet = append(packet, OOB_PREFIX...)
	packet = append(packet, data...)

	n.conn.SetWriteDeadline(time.Now().Add(n.Timeout))
	written, err := n.conn.WriteTo(packet, n.Addr)
	if err != nil {
		return err
	}

	packetsSent.WithLabelValues(packetKind(packet)).Inc()
	bytesSent.Add(float64(written))
	return nil
}

func (n *Net) Receive(ctx context.Context) ([]byte, error) {
	return n.receive(ctx, n.Timeout)
}

// receive waits at most timeout for a datagram from the server.
// Datagrams from other peers are dropped.
func (n *Net) receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	ctxDeadline := false
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
		ctxDeadline = true
	}
	n.conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		n.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, BUFFER_SIZE)
	for {
		nr, from, err := n.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if ctxDeadline && errors.Is(err, os.ErrDeadlineExceeded) {
				// the socket can beat the context timer by a hair
				<-ctx.Done()
				return nil, ctx.Err()
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, ErrTimedOut
			}
			return nil, err
		}

		if ua, ok := from.(*net.UDPAddr); !ok || !ua.IP.Equal(n.Addr.IP) || ua.Port != n.Addr.Port {
			packetsReceived.WithLabelValues("stray").Inc()
			continue
		}

		packet := append([]byte(nil), buf[:nr]...)
		packetsReceived.WithLabelValues(packetKind(packet)).Inc()
		bytesReceived.Add(float64(nr))
		return packet, nil
	}
}

func packetKind(packet []byte) string {
	if bytes.HasPrefix(packet, OOB_PREFIX) {
		return "oob"
	}
	return "sequenced"
}

// vim: ai:ts=8:sw=8:noet:syntax=go
