package main

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEvalForth(t *testing.T) {
	s := loadedScript(t, testScript)

	tests := []struct {
		name    string
		code    string
		want    interface{}
		replies []string
		wantErr error
	}{
		{"number", "7", int64(7), nil, nil},
		{"add", "1 2 +", int64(3), nil, nil},
		{"compare", "3 2 >", true, nil, nil},
		{"equal", `" a" " a" =`, true, nil, nil},
		{"dup drop", "5 dup drop", int64(5), nil, nil},
		{"string", `" hello world"`, "hello world", nil, nil},
		{"if taken", `1 if " yes" reply then`, nil, []string{"yes"}, nil},
		{"if skipped", `0 if " yes" reply then 9`, int64(9), nil, nil},
		{"nested if", `0 if 1 if " inner" reply then then`, nil, nil, nil},
		{"not", "0 not", true, nil, nil},
		{"loop", `2 times " hi" reply loop`, nil, []string{"hi", "hi"}, nil},
		{"command", "!ping", nil, []string{"pong"}, nil},
		{"command args", "!hello;carol", nil, []string{"hello carol from dave"}, nil},
		{"command result", "!answer", "42", nil, nil},
		{"underflow", "+", nil, nil, ErrStackUnderflow},
		{"unknown command", "!nope", nil, nil, ErrUnknownCommand},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s.call = &scriptCall{ctx: context.Background(), from: "dave"}
			defer func() { s.call = nil }()

			got, err := s.evalForth(context.Background(), strings.Fields(tc.code)...)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("result = %#v, want %#v", got, tc.want)
			}
			if strings.Join(s.call.replies, "|") != strings.Join(tc.replies, "|") {
				t.Errorf("replies = %q, want %q", s.call.replies, tc.replies)
			}
		})
	}
}

func TestEvalForthErrors(t *testing.T) {
	s := loadedScript(t, testScript)
	s.call = &scriptCall{ctx: context.Background()}

	for _, code := range []string{
		"101 times 1 loop",
		"-1 times 1 loop",
		`" unterminated`,
		"1 times 2",
		"frob",
	} {
		if _, err := s.evalForth(context.Background(), strings.Fields(code)...); err == nil {
			t.Errorf("%q: no error", code)
		}
	}
}
