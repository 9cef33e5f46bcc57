package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tandemflow/tandem/pkg/a2a"
	"github.com/tandemflow/tandem/pkg/pool"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	p := pool.New(pool.Config{SizePerEndpoint: 2, AcquireTimeout: time.Second})
	t.Cleanup(p.Close)
	return New(p, Config{MaxRetries: 2, BaseBackoff: time.Millisecond})
}

func rpcResult(t *testing.T, w http.ResponseWriter, env *a2a.Envelope) {
	t.Helper()
	result, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	resp := a2a.Response{JSONRPC: "2.0", ID: "1", Result: result}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req a2a.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Method != a2a.MethodMessageSend {
			t.Errorf("method = %q, want %q", req.Method, a2a.MethodMessageSend)
		}
		if req.Params.Metadata[a2a.MetadataVersionKey] != a2a.ProtocolVersion {
			t.Error("request does not advertise protocol version")
		}

		out := a2a.NewTextEnvelope(a2a.RoleAssistant, "pong")
		rpcResult(t, w, out)
	}))
	defer srv.Close()

	c := newTestClient(t)
	got, err := c.Send(context.Background(), srv.URL, a2a.NewTextEnvelope(a2a.RoleUser, "ping"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Text() != "pong" {
		t.Errorf("Text() = %q, want %q", got.Text(), "pong")
	}
	if got.Role != a2a.RoleAssistant {
		t.Errorf("Role = %v, want %v", got.Role, a2a.RoleAssistant)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rpcResult(t, w, a2a.NewTextEnvelope(a2a.RoleAssistant, "ok"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	got, err := c.Send(context.Background(), srv.URL, a2a.NewTextEnvelope(a2a.RoleUser, "x"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Text() != "ok" {
		t.Errorf("Text() = %q, want ok", got.Text())
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestSendDoesNotRetryRPCError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		resp := a2a.Response{
			JSONRPC: "2.0", ID: "1",
			Error: &a2a.RPCError{Code: a2a.CodeInvalidParams, Message: "bad params"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.Send(context.Background(), srv.URL, a2a.NewTextEnvelope(a2a.RoleUser, "x"))

	var perr *a2a.ProtocolError
	if !errors.As(err, &perr) || perr.Kind != a2a.ErrRemote {
		t.Fatalf("error = %v, want remote_error ProtocolError", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", n)
	}
}

func TestSendVersionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := a2a.NewTextEnvelope(a2a.RoleAssistant, "old")
		out.SetMetadata(a2a.MetadataVersionKey, "0.9")
		rpcResult(t, w, out)
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.Send(context.Background(), srv.URL, a2a.NewTextEnvelope(a2a.RoleUser, "x"))

	var perr *a2a.ProtocolError
	if !errors.As(err, &perr) || perr.Kind != a2a.ErrVersionMismatch {
		t.Fatalf("error = %v, want version_mismatch ProtocolError", err)
	}
}

func TestSendMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.Send(context.Background(), srv.URL, a2a.NewTextEnvelope(a2a.RoleUser, "x"))

	var perr *a2a.ProtocolError
	if !errors.As(err, &perr) || perr.Kind != a2a.ErrMalformed {
		t.Fatalf("error = %v, want malformed ProtocolError", err)
	}
}

func TestSendConnectFailureIsTransient(t *testing.T) {
	// A closed server gives connect refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t)
	_, err := c.Send(context.Background(), url, a2a.NewTextEnvelope(a2a.RoleUser, "x"))

	var perr *a2a.ProtocolError
	if !errors.As(err, &perr) || perr.Kind != a2a.ErrTimeout {
		t.Fatalf("error = %v, want timeout ProtocolError", err)
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")

		for _, text := range []string{"chunk one", "chunk two"} {
			env := a2a.NewTextEnvelope(a2a.RoleAssistant, text)
			data, _ := json.Marshal(env)
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		}
	}))
	defer srv.Close()

	c := newTestClient(t)
	ch, err := c.Stream(context.Background(), srv.URL, a2a.NewTextEnvelope(a2a.RoleUser, "go"))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var texts []string
	for res := range ch {
		if res.Err != nil {
			t.Fatalf("stream item error = %v", res.Err)
		}
		texts = append(texts, res.Envelope.Text())
	}

	want := []string{"chunk one", "chunk two"}
	if len(texts) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(texts), len(want))
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestStreamMidStreamVersionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		good := a2a.NewTextEnvelope(a2a.RoleAssistant, "fine")
		data, _ := json.Marshal(good)
		fmt.Fprintf(w, "data: %s\n\n", data)

		bad := a2a.NewTextEnvelope(a2a.RoleAssistant, "stale")
		bad.SetMetadata(a2a.MetadataVersionKey, "2.0")
		data, _ = json.Marshal(bad)
		fmt.Fprintf(w, "data: %s\n\n", data)
	}))
	defer srv.Close()

	c := newTestClient(t)
	ch, err := c.Stream(context.Background(), srv.URL, a2a.NewTextEnvelope(a2a.RoleUser, "go"))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var last StreamResult
	count := 0
	for res := range ch {
		last = res
		count++
	}

	if count != 2 {
		t.Fatalf("got %d items, want 2", count)
	}
	var perr *a2a.ProtocolError
	if !errors.As(last.Err, &perr) || perr.Kind != a2a.ErrVersionMismatch {
		t.Fatalf("final item error = %v, want version_mismatch", last.Err)
	}
}

func TestConnectionReleasedAfterSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, a2a.NewTextEnvelope(a2a.RoleAssistant, "ok"))
	}))
	defer srv.Close()

	p := pool.New(pool.Config{SizePerEndpoint: 1, AcquireTimeout: time.Second})
	defer p.Close()
	c := New(p, Config{MaxRetries: 1, BaseBackoff: time.Millisecond})

	// With a single-slot pool, back-to-back sends only work if every
	// call releases its connection.
	for i := 0; i < 3; i++ {
		if _, err := c.Send(context.Background(), srv.URL, a2a.NewTextEnvelope(a2a.RoleUser, "x")); err != nil {
			t.Fatalf("Send() #%d error = %v", i, err)
		}
	}
	if got := p.InUse(srv.URL); got != 0 {
		t.Errorf("InUse = %d after sends, want 0", got)
	}
}
