package duplex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/duplexrpc/duplex-go/router"
	"github.com/duplexrpc/duplex-go/transport/pipe"
	"github.com/duplexrpc/duplex-go/wire"
)

// rawConn pairs a served Conn with a hand-driven peer end so tests can
// inject arbitrary frames and inspect the exact reply bytes.
func rawConn(t *testing.T, opts ...Option) (*pipe.End, *Conn) {
	t.Helper()
	peer, end := pipe.New(16)
	conn := NewConn(end, opts...)
	t.Cleanup(func() {
		conn.Close()
		peer.Close()
	})
	return peer, conn
}

func recvJSON(t *testing.T, peer *pipe.End) map[string]json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := peer.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("reply is not a JSON object: %s", data)
	}
	return m
}

func errorCode(t *testing.T, m map[string]json.RawMessage) int64 {
	t.Helper()
	var e wire.Error
	if err := json.Unmarshal(m["error"], &e); err != nil {
		t.Fatalf("reply carries no error object: %v", err)
	}
	return e.Code
}

func TestServeParseError(t *testing.T) {
	peer, _ := rawConn(t, WithRegistry(router.New()))
	ctx := context.Background()

	if err := peer.Send(ctx, []byte(`{oops`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := recvJSON(t, peer)
	if code := errorCode(t, m); code != wire.CodeParseError {
		t.Fatalf("code = %d, want %d", code, wire.CodeParseError)
	}
	if string(m["id"]) != "null" {
		t.Fatalf("id = %s, want null", m["id"])
	}
}

func TestServeEmptyBatch(t *testing.T) {
	peer, _ := rawConn(t, WithRegistry(router.New()))

	if err := peer.Send(context.Background(), []byte(`[]`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := recvJSON(t, peer)
	if code := errorCode(t, m); code != wire.CodeInvalidRequest {
		t.Fatalf("code = %d, want %d", code, wire.CodeInvalidRequest)
	}
	if string(m["id"]) != "null" {
		t.Fatalf("id = %s, want null", m["id"])
	}
}

func TestServeBatchesDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisableBatches = true
	peer, _ := rawConn(t, WithRegistry(router.New()), WithConfig(cfg))

	batch := `[{"jsonrpc":"2.0","method":"subtract","params":[5,3],"id":1}]`
	if err := peer.Send(context.Background(), []byte(batch)); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := recvJSON(t, peer)
	if code := errorCode(t, m); code != wire.CodeBatchesNotSupported {
		t.Fatalf("code = %d, want %d", code, wire.CodeBatchesNotSupported)
	}
	if string(m["id"]) != "null" {
		t.Fatalf("id = %s, want null", m["id"])
	}
}

func TestServeBatchMixedEntries(t *testing.T) {
	reg := router.New()
	if err := reg.Register("subtract", subtractHandler); err != nil {
		t.Fatalf("register: %v", err)
	}
	peer, _ := rawConn(t, WithRegistry(reg))

	batch := `[
		{"jsonrpc":"2.0","method":"subtract","params":[5,3],"id":1},
		{"jsonrpc":"2.0","id":5},
		{"jsonrpc":"2.0","method":"log"}
	]`
	if err := peer.Send(context.Background(), []byte(batch)); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := peer.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	var replies []wire.Response
	if err := json.Unmarshal(data, &replies); err != nil {
		t.Fatalf("reply is not a batch: %s", data)
	}
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2 (the notification gets none)", len(replies))
	}

	// Responses are matched by id, not position.
	byID := make(map[string]*wire.Response, len(replies))
	for i := range replies {
		byID[replies[i].ID.String()] = &replies[i]
	}
	ok := byID["n:1"]
	if ok == nil || ok.Error != nil || string(ok.Result) != "2" {
		t.Fatalf("id 1 reply: %+v", ok)
	}
	bad := byID["n:5"]
	if bad == nil || bad.Error == nil || bad.Error.Code != wire.CodeInvalidRequest {
		t.Fatalf("id 5 reply: %+v", bad)
	}
}

func TestServeOversizedFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFrameBytes = 64
	peer, conn := rawConn(t, WithRegistry(router.New()), WithConfig(cfg))

	big := make([]byte, 128)
	for i := range big {
		big[i] = 'x'
	}
	if err := peer.Send(context.Background(), big); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := recvJSON(t, peer)
	if code := errorCode(t, m); code != wire.CodeParseError {
		t.Fatalf("code = %d, want %d", code, wire.CodeParseError)
	}
	waitFor(t, "decode error counter", func() bool {
		return conn.Stats().DecodeErrors == 1
	})
}

func TestUnknownResponseIgnoredAndCounted(t *testing.T) {
	peer, conn := rawConn(t)

	resp := `{"jsonrpc":"2.0","result":1,"id":999}`
	if err := peer.Send(context.Background(), []byte(resp)); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "unknown response counter", func() bool {
		return conn.Stats().UnknownResponses == 1
	})
}

func TestClientBatchMalformedEntryIsolation(t *testing.T) {
	peer, conn := rawConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type outcome struct {
		n   int
		err error
	}
	results := make(chan outcome, 2)
	call := func() {
		var n int
		err := conn.Call(ctx, &n, "get", nil)
		results <- outcome{n: n, err: err}
	}
	go call()
	firstReq, err := peer.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	go call()
	if _, err := peer.Recv(ctx); err != nil {
		t.Fatalf("recv: %v", err)
	}

	var req wire.Request
	if err := json.Unmarshal(firstReq, &req); err != nil {
		t.Fatalf("request frame: %v", err)
	}
	first := req.ID.Value().(int64)

	// One batch: a malformed entry attributable to the first call, a valid
	// response for the second. The bad entry must settle only its own call.
	batch := fmt.Sprintf(
		`[{"jsonrpc":"2.0","result":1,"error":{"code":1,"message":"x"},"id":%d},
		  {"jsonrpc":"2.0","result":7,"id":%d}]`, first, first+1)
	if err := peer.Send(ctx, []byte(batch)); err != nil {
		t.Fatalf("send: %v", err)
	}

	var sawError, sawResult bool
	for i := 0; i < 2; i++ {
		out := <-results
		if out.err != nil {
			var werr *wire.Error
			if !errors.As(out.err, &werr) || werr.Code != wire.CodeParseError {
				t.Fatalf("got %v, want parse-error response", out.err)
			}
			sawError = true
			continue
		}
		if out.n != 7 {
			t.Fatalf("result = %d, want 7", out.n)
		}
		sawResult = true
	}
	if !sawError || !sawResult {
		t.Fatalf("sawError=%v sawResult=%v", sawError, sawResult)
	}
}

func TestCallRateLimit(t *testing.T) {
	reg := router.New()
	if err := reg.Register("subtract", subtractHandler); err != nil {
		t.Fatalf("register: %v", err)
	}
	peer, _ := rawConn(t, WithRegistry(reg), WithCallRateLimit(rate.Limit(0.001), 1))
	ctx := context.Background()

	if err := peer.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"subtract","params":[5,3],"id":1}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := recvJSON(t, peer)
	if m["error"] != nil {
		t.Fatalf("first call must pass the limiter: %s", m["error"])
	}

	if err := peer.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"subtract","params":[5,3],"id":2}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	m = recvJSON(t, peer)
	if code := errorCode(t, m); code != wire.CodeServerBusy {
		t.Fatalf("code = %d, want %d", code, wire.CodeServerBusy)
	}
}

func TestProtocolErrorHandlerInvoked(t *testing.T) {
	errs := make(chan error, 1)
	peer, _ := rawConn(t, WithProtocolErrorHandler(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))

	if err := peer.Send(context.Background(), []byte(`{"jsonrpc":"2.0","result":1,"id":null}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("nil protocol error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("protocol error handler never invoked")
	}
}
