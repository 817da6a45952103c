package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerAddsRPCGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewTextHandler(&buf, nil)})

	ctx := WithMessage(context.Background(), &Message{Method: "subtract", ID: "n:1", Kind: "request"})
	log.InfoContext(ctx, "handled")

	out := buf.String()
	for _, want := range []string{"rpc.method=subtract", "rpc.id=n:1", "rpc.kind=request"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestHandlerWithoutMessage(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewTextHandler(&buf, nil)})

	log.Info("plain")
	if strings.Contains(buf.String(), "rpc.") {
		t.Fatalf("unexpected rpc group: %q", buf.String())
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context must carry no message")
	}
}
