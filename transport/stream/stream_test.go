package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type sink struct {
	strings.Builder
}

func TestSendAppendsNewline(t *testing.T) {
	var out sink
	s := New(strings.NewReader(""), &out, 0)
	defer s.Close()

	ctx := context.Background()
	if err := s.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"a"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"b"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	want := "{\"jsonrpc\":\"2.0\",\"method\":\"a\"}\n{\"jsonrpc\":\"2.0\",\"method\":\"b\"}\n"
	if out.String() != want {
		t.Fatalf("got %q", out.String())
	}
}

func TestRecvSkipsBlankLinesAndTrims(t *testing.T) {
	in := "\n  \n{\"a\":1}\r\n\n{\"b\":2}\n"
	s := New(strings.NewReader(in), io.Discard, 0)
	defer s.Close()

	ctx := context.Background()
	got, err := s.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
	got, err = s.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(got) != `{"b":2}` {
		t.Fatalf("got %q", got)
	}
	if _, err := s.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestRecvEnforcesLineLimit(t *testing.T) {
	long := strings.Repeat("x", 100) + "\n"
	s := New(strings.NewReader(long), io.Discard, 10)
	defer s.Close()

	if _, err := s.Recv(context.Background()); err == nil {
		t.Fatal("oversized line must fail")
	}
}

func TestCloseStopsTransfers(t *testing.T) {
	pr, pw := io.Pipe()
	s := New(pr, pw, 0)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Send(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
	if _, err := s.Recv(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}
