package main

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func TestNewRemoteWithoutURL(t *testing.T) {
	if _, err := NewRemote(&Config{}, nil, nil); !errors.Is(err, ErrNoRemote) {
		t.Errorf("NewRemote = %v, want ErrNoRemote", err)
	}
}

func TestRemoteRunsCommands(t *testing.T) {
	type result struct {
		hello RemoteEvent
		reply RemoteEvent
		token string
		err   error
	}
	results := make(chan result, 1)

	hub := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()
		ws.SetDeadline(time.Now().Add(5 * time.Second))

		var res result
		res.token = ws.Request().URL.Query().Get("auth")
		if res.err = websocket.JSON.Receive(ws, &res.hello); res.err != nil {
			results <- res
			return
		}
		if res.err = websocket.JSON.Send(ws, RemoteEvent{Origin: "carol", Command: "hello dave"}); res.err != nil {
			results <- res
			return
		}
		for {
			var event RemoteEvent
			if res.err = websocket.JSON.Receive(ws, &event); res.err != nil {
				break
			}
			if len(event.Replies) > 0 {
				res.reply = event
				break
			}
		}
		results <- res
	}))
	defer hub.Close()

	config := &Config{
		RemoteURL:   "ws" + strings.TrimPrefix(hub.URL, "http") + "/push",
		RemoteToken: "t0ken",
	}
	events := NewBroadcaster()
	script := NewScript(nil, nil, events)
	if err := script.Load(testScript); err != nil {
		t.Fatal(err)
	}

	remote, err := NewRemote(config, script, events)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go remote.Run(ctx)

	var res result
	select {
	case res = <-results:
	case <-time.After(10 * time.Second):
		t.Fatal("hub got nothing")
	}
	if res.err != nil {
		t.Fatal(res.err)
	}

	if res.token != "t0ken" {
		t.Errorf("auth = %q", res.token)
	}
	if strings.Join(res.hello.Commands, ",") != "answer,fail,hello,ping" {
		t.Errorf("hello = %+v", res.hello)
	}
	if res.reply.Receiver != "carol" || len(res.reply.Replies) != 1 || res.reply.Replies[0] != "hello dave from carol" {
		t.Errorf("reply = %+v", res.reply)
	}
}

func TestRemoteWriteFailureCancels(t *testing.T) {
	events := NewBroadcaster()
	r := &Remote{Events: events}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.writeLoop(ctx, cancel)
	}()

	// the socket is already gone, so the first forwarded event fails
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(2 * time.Second)
	for ctx.Err() == nil {
		select {
		case <-tick.C:
			events.Publish(Event{Kind: "print", Text: "hello"})
		case <-deadline:
			t.Fatal("write failure did not cancel the context")
		}
	}

	if err := <-done; !errors.Is(err, net.ErrClosed) {
		t.Errorf("writeLoop = %v, want net.ErrClosed", err)
	}
}
