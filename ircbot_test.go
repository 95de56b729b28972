package main

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"gopkg.in/irc.v3"
)

func TestSplitReply(t *testing.T) {
	long := strings.Repeat("x", MAX_IRC_LINE+10)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single", "pong", []string{"pong"}},
		{"lines", "map: q3dm17\nnum score ping name\n", []string{"map: q3dm17", "num score ping name"}},
		{"blank lines", "\n\na\r\n\n", []string{"a"}},
		{"long", long, []string{long[:MAX_IRC_LINE], long[MAX_IRC_LINE:]}},
		{"empty", "", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := splitReply(tc.text)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
				t.Errorf("splitReply(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestIRCBotStartWithoutConfig(t *testing.T) {
	b := NewIRCBot(&Config{}, NewScript(nil, nil, nil), nil)
	if err := b.Start(); !errors.Is(err, ErrNoIRCConfig) {
		t.Errorf("Start = %v, want ErrNoIRCConfig", err)
	}
	if b.IsOnline() {
		t.Error("bot is online")
	}
}

func TestIRCBotHandle(t *testing.T) {
	script := loadedScript(t, testScript)
	b := NewIRCBot(&Config{IRCChannel: "#arena", IRCNick: "oob"}, script, nil)

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	lines := make(chan *irc.Message, 16)
	go func() {
		r := bufio.NewReader(remote)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			m, err := irc.ParseMessage(strings.TrimRight(line, "\r\n"))
			if err == nil {
				lines <- m
			}
		}
	}()

	c := irc.NewClient(local, irc.ClientConfig{Nick: "oob", Handler: b})
	b.client = c

	next := func() *irc.Message {
		t.Helper()
		select {
		case m := <-lines:
			return m
		case <-time.After(2 * time.Second):
			t.Fatal("no line written")
		}
		return nil
	}

	b.Handle(c, &irc.Message{Command: "001", Params: []string{"oob", "welcome"}})
	if m := next(); m.Command != "JOIN" || m.Params[0] != "#arena" {
		t.Errorf("after 001: %s", m)
	}

	b.Handle(c, irc.MustParseMessage(":alice!alice@example.org PRIVMSG #arena :!hello bob"))
	m := next()
	if m.Command != "PRIVMSG" || m.Params[0] != "#arena" || m.Trailing() != "hello bob from alice" {
		t.Errorf("reply: %s", m)
	}
}

func TestIRCBotHandlePrivmsg(t *testing.T) {
	b := NewIRCBot(&Config{}, loadedScript(t, testScript), nil)

	if got := b.handlePrivmsg(context.Background(), "alice", "!nope"); len(got) != 0 {
		t.Errorf("unknown command replied %q", got)
	}
	if got := b.handlePrivmsg(context.Background(), "alice", "!ping"); len(got) != 1 || got[0] != "pong" {
		t.Errorf("ping replied %q", got)
	}
}

func TestIRCBotReconnectRelaysOnce(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	lines := make(chan string, 64)
	go func() {
		// first connection drops right after registration starts
		c1, err := l.Accept()
		if err != nil {
			return
		}
		bufio.NewReader(c1).ReadString('\n')
		c1.Close()

		c2, err := l.Accept()
		if err != nil {
			return
		}
		defer c2.Close()
		r := bufio.NewReader(c2)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	events := NewBroadcaster()
	b := NewIRCBot(&Config{
		IRCServer:  l.Addr().String(),
		IRCNick:    "oob",
		IRCChannel: "#arena",
	}, NewScript(nil, nil, nil), events)
	defer b.Stop()

	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for b.IsOnline() {
		if time.Now().After(deadline) {
			t.Fatal("bot did not notice the dropped connection")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	events.Publish(Event{Kind: "print", Text: "hello"})

	n := 0
	timeout := time.After(500 * time.Millisecond)
	for {
		select {
		case line := <-lines:
			m, err := irc.ParseMessage(line)
			if err == nil && m.Command == "PRIVMSG" && m.Trailing() == "hello" {
				if m.Params[0] != "#arena" {
					t.Errorf("PRIVMSG target = %q", m.Params[0])
				}
				n++
			}
		case <-timeout:
			if n != 1 {
				t.Errorf("relayed %d times, want 1", n)
			}
			return
		}
	}
}
