package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kmeaw/oobclient/huffman"
	"github.com/kmeaw/oobclient/info"
)

// fakeServer answers OOB requests on a loopback socket. handle returns the
// replies (without the OOB prefix) for one request.
type fakeServer struct {
	conn   net.PacketConn
	handle func(request []byte) []string

	mu       sync.Mutex
	requests []string
}

func newFakeServer(t *testing.T, handle func(request []byte) []string) *fakeServer {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &fakeServer{conn: conn, handle: handle}
	t.Cleanup(func() { conn.Close() })

	go s.serve()
	return s
}

func (s *fakeServer) Addr() string {
	return s.conn.LocalAddr().String()
}

func (s *fakeServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.requests...)
}

func (s *fakeServer) serve() {
	buf := make([]byte, 2048)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if !bytes.HasPrefix(buf[:n], OOB_PREFIX) {
			continue
		}
		request := append([]byte(nil), buf[len(OOB_PREFIX):n]...)

		s.mu.Lock()
		cmd, _ := splitCommand(string(request))
		s.requests = append(s.requests, cmd)
		s.mu.Unlock()

		for _, reply := range s.handle(request) {
			s.conn.WriteTo(append(append([]byte(nil), OOB_PREFIX...), reply...), from)
		}
	}
}

// connectInfoOf decodes the userinfo of a connect request.
func connectInfoOf(t *testing.T, request []byte) info.Info {
	t.Helper()

	payload := bytes.TrimPrefix(request, []byte("connect "))
	data, err := huffman.Decompress(payload)
	if err != nil {
		t.Errorf("cannot decompress connect payload: %s", err)
		return nil
	}
	i, err := info.Parse(string(data))
	if err != nil {
		t.Errorf("cannot parse %q: %s", data, err)
		return nil
	}
	return i
}

func testClient(addr string) *Client {
	return NewClient(ClientOpts{
		Address:  addr,
		Protocol: 71,
		QPort:    1234,
		Userinfo: map[string]string{"name": "tester", "rate": "25000"},
		Timeout:  200 * time.Millisecond,
		Retries:  3,
		Events:   NewBroadcaster(),
	})
}

func TestClientConnect(t *testing.T) {
	infos := make(chan info.Info, 1)
	srv := newFakeServer(t, func(request []byte) []string {
		switch {
		case string(request) == "getchallenge":
			return []string{"challengeResponse -42 71"}
		case bytes.HasPrefix(request, []byte("connect ")):
			infos <- connectInfoOf(t, request)
			return []string{"connectResponse -42"}
		}
		return nil
	})

	c := testClient(srv.Addr())
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %s", err)
	}
	if c.State() != STATE_CONNECTED {
		t.Errorf("state = %s, want connected", c.State())
	}
	if c.Challenge() != -42 {
		t.Errorf("challenge = %d, want -42", c.Challenge())
	}

	i := <-infos
	for k, want := range map[string]string{
		"challenge": "-42",
		"protocol":  "71",
		"qport":     "1234",
		"name":      "tester",
		"rate":      "25000",
	} {
		if got := i.Get(k); got != want {
			t.Errorf("userinfo %s = %q, want %q", k, got, want)
		}
	}

	var states []string
	for _, event := range c.Events.Recent(EVENT_BACKLOG) {
		if event.Kind == "state" {
			states = append(states, event.State)
		}
	}
	if got := strings.Join(states, ","); got != "connecting,challenging,connected" {
		t.Errorf("state events = %s", got)
	}
}

func TestClientChallengeRetry(t *testing.T) {
	var mu sync.Mutex
	seen := 0
	srv := newFakeServer(t, func(request []byte) []string {
		switch {
		case string(request) == "getchallenge":
			mu.Lock()
			defer mu.Unlock()
			seen++
			if seen < 2 {
				return nil
			}
			return []string{"challengeResponse 7"}
		case bytes.HasPrefix(request, []byte("connect ")):
			return []string{"connectResponse"}
		}
		return nil
	})

	c := testClient(srv.Addr())
	c.Timeout = 100 * time.Millisecond
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %s", err)
	}
	if got := srv.Requests(); strings.Join(got, ",") != "getchallenge,getchallenge,connect" {
		t.Errorf("requests = %v", got)
	}
}

func TestClientConnectRejected(t *testing.T) {
	srv := newFakeServer(t, func(request []byte) []string {
		switch {
		case string(request) == "getchallenge":
			return []string{"challengeResponse 1"}
		case bytes.HasPrefix(request, []byte("connect ")):
			return []string{"print\nServer uses protocol version 68.\n"}
		}
		return nil
	})

	c := testClient(srv.Addr())
	defer c.Close()

	err := c.Connect(context.Background())
	var perr ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("Connect = %v, want ProtocolError", err)
	}
	if perr.Command != "print" || !strings.Contains(perr.Text, "protocol version 68") {
		t.Errorf("error = %#v", perr)
	}
	if c.State() != STATE_DISCONNECTED {
		t.Errorf("state = %s, want disconnected", c.State())
	}
}

func TestClientTimeout(t *testing.T) {
	srv := newFakeServer(t, func(request []byte) []string { return nil })

	c := testClient(srv.Addr())
	c.Timeout = 50 * time.Millisecond
	c.Retries = 2
	defer c.Close()

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrTimedOut) || !errors.Is(err, ErrNoChallenge) {
		t.Fatalf("Connect = %v, want ErrNoChallenge and ErrTimedOut", err)
	}
	if n := len(srv.Requests()); n != 2 {
		t.Errorf("%d getchallenge requests, want 2", n)
	}
}

func TestClientConnectCanceled(t *testing.T) {
	srv := newFakeServer(t, func(request []byte) []string { return nil })

	c := testClient(srv.Addr())
	c.Timeout = 5 * time.Second
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Connect(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Connect ignored the context for %s", time.Since(start))
	}
}

func TestClientStatus(t *testing.T) {
	srv := newFakeServer(t, func(request []byte) []string {
		if string(request) == "getstatus" {
			return []string{"statusResponse\n\\sv_hostname\\test server\\mapname\\q3dm17\n5 48 \"player one\"\n-1 0 \"bot\"\n"}
		}
		return nil
	})

	c := testClient(srv.Addr())
	defer c.Close()

	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Info.Get("mapname") != "q3dm17" || status.Info.Get("sv_hostname") != "test server" {
		t.Errorf("info = %v", status.Info)
	}
	want := []Player{{Score: 5, Ping: 48, Name: "player one"}, {Score: -1, Ping: 0, Name: "bot"}}
	if len(status.Players) != len(want) {
		t.Fatalf("players = %v", status.Players)
	}
	for i := range want {
		if status.Players[i] != want[i] {
			t.Errorf("player %d = %+v, want %+v", i, status.Players[i], want[i])
		}
	}
}

func TestClientInfo(t *testing.T) {
	srv := newFakeServer(t, func(request []byte) []string {
		if strings.HasPrefix(string(request), "getinfo ") {
			return []string{"infoResponse\n\\clients\\3\\hostname\\box"}
		}
		return nil
	})

	c := testClient(srv.Addr())
	defer c.Close()

	i, err := c.Info(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if i.Get("clients") != "3" || i.Get("hostname") != "box" {
		t.Errorf("info = %v", i)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		players int
		wantErr bool
	}{
		{"empty server", "\\mapname\\q3dm1\n", 0, false},
		{"players", "\\mapname\\q3dm1\n1 2 \"a\"\n3 4 \"b c\"\n", 2, false},
		{"junk line", "\\mapname\\q3dm1\nfoo\n", 0, false},
		{"bad score", "\\mapname\\q3dm1\nx 4 \"b\"\n", 0, true},
		{"bad info", "\\mapname\n", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, err := parseStatus(tc.body)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && len(status.Players) != tc.players {
				t.Errorf("%d players, want %d", len(status.Players), tc.players)
			}
		})
	}
}

func TestNetDropsStrays(t *testing.T) {
	srv := newFakeServer(t, func(request []byte) []string {
		return []string{"print\nfrom server\n"}
	})

	n, err := NewNet(context.Background(), srv.Addr(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	stray, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer stray.Close()

	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: n.conn.LocalAddr().(*net.UDPAddr).Port}
	if _, err := stray.WriteTo(append(append([]byte(nil), OOB_PREFIX...), "print\nstray\n"...), local); err != nil {
		t.Fatal(err)
	}
	if err := n.SendOOBText("getstatus"); err != nil {
		t.Fatal(err)
	}

	packet, err := n.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(packet), "from server") {
		t.Errorf("received %q", packet)
	}
}

func TestClientStateString(t *testing.T) {
	for state, want := range map[ClientState]string{
		STATE_DISCONNECTED: "disconnected",
		STATE_CHALLENGING:  "challenging",
		ClientState(9):     "state(9)",
	} {
		if state.String() != want {
			t.Errorf("%d.String() = %q, want %q", state, state.String(), want)
		}
	}
}
