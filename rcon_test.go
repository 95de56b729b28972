package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func rconServer(t *testing.T) *fakeServer {
	return newFakeServer(t, func(request []byte) []string {
		flds := strings.SplitN(string(request), " ", 3)
		if len(flds) < 3 || flds[0] != "rcon" {
			return nil
		}
		if flds[1] != "secret" {
			return []string{"print\nBad rconpassword.\n"}
		}
		switch flds[2] {
		case "status":
			return []string{"print\nmap: q3dm17\n", "print\nnum score ping name\n"}
		case "silent":
			return nil
		}
		return []string{"print\nUnknown command \"" + flds[2] + "\"\n"}
	})
}

func TestRconCommand(t *testing.T) {
	srv := rconServer(t)

	tests := []struct {
		name     string
		password string
		cmd      string
		want     string
		wantErr  bool
	}{
		{"multi packet", "secret", "status", "map: q3dm17\nnum score ping name\n", false},
		{"no output", "secret", "silent", "", false},
		{"unknown", "secret", "frobnicate", "Unknown command \"frobnicate\"\n", false},
		{"bad password", "wrong", "status", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewRconClient(200 * time.Millisecond)
			if err := c.Connect(context.Background(), srv.Addr(), tc.password); err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			out, err := c.Command(context.Background(), tc.cmd)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if out != tc.want {
				t.Errorf("out = %q, want %q", out, tc.want)
			}
		})
	}
}

func TestRconOffline(t *testing.T) {
	c := NewRconClient(time.Second)
	if c.IsOnline() {
		t.Error("new client is online")
	}

	_, err := c.Command(context.Background(), "status")
	if !errors.Is(err, ErrRconOffline) {
		t.Errorf("Command = %v, want ErrRconOffline", err)
	}

	if err := c.Connect(context.Background(), "127.0.0.1:27960", ""); !errors.Is(err, ErrNoPassword) {
		t.Errorf("Connect = %v, want ErrNoPassword", err)
	}
}
