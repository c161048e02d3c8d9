package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/wirectl/internal/auth"
	"github.com/danmuck/wirectl/internal/client"
	"github.com/danmuck/wirectl/internal/protocol"
	"github.com/danmuck/wirectl/internal/protocol/handshake"
	"github.com/danmuck/wirectl/internal/session"
	"github.com/danmuck/wirectl/internal/testutil/testlog"
	"github.com/danmuck/wirectl/internal/testutil/tlstest"
	"github.com/danmuck/wirectl/internal/transport"
)

type testServer struct {
	srv      *Server
	addr     string
	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
}

func startServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.AdminAddr = ""
	cfg.Session.DrainTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg,
		WithAuthenticator(auth.NewUserTable(map[string]string{"neo": "red-pill"})),
		WithLogger(zerolog.Nop()),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{srv: srv, addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { ts.done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() { ts.stop(t) })
	waitFor(t, srv.Ready)
	return ts
}

// stop cancels Serve and waits for it. Tests may call it before the
// cleanup registered by startServer does.
func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	ts.stopOnce.Do(func() {
		ts.cancel()
		select {
		case err := <-ts.done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), addr, client.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSessionLifecycle(t *testing.T) {
	for _, executor := range []string{ExecutorDeferred, ExecutorInline} {
		t.Run(executor, func(t *testing.T) {
			ts := startServer(t, func(c *Config) { c.Executor = executor })
			c := dial(t, ts.addr)
			if c.Version() != 1 {
				t.Fatalf("unexpected version %d", c.Version())
			}

			connID, err := c.Hello("wirectl-test/1", "neo", "red-pill")
			if err != nil {
				t.Fatalf("hello: %v", err)
			}
			info, ok := ts.srv.Registry().Get(connID)
			if !ok {
				t.Fatalf("connection %q not registered", connID)
			}
			if info.Version != 1 || info.State != "open" {
				t.Fatalf("unexpected conn info %+v", info)
			}

			summary, err := c.Run("RETURN 1", []byte{1, 2})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !strings.Contains(summary, "RETURN 1") {
				t.Fatalf("unexpected summary %q", summary)
			}

			if err := c.Goodbye(); err != nil {
				t.Fatalf("goodbye: %v", err)
			}
			if _, err := c.Receive(); err == nil {
				t.Fatal("expected server to hang up after goodbye")
			}
			waitFor(t, func() bool { return ts.srv.Registry().Len() == 0 })
		})
	}
}

func TestPipelinedRequestsKeepOrder(t *testing.T) {
	ts := startServer(t, nil)
	c := dial(t, ts.addr)
	if _, err := c.Hello("wirectl-test/1", "neo", "red-pill"); err != nil {
		t.Fatalf("hello: %v", err)
	}

	var ids []uint64
	for i := 0; i < 25; i++ {
		id, err := c.Send(protocol.MessageRun, protocol.NewFieldString(protocol.FieldStatement, "RETURN 1"))
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		ids = append(ids, id)
	}
	for _, want := range ids {
		reply, err := c.Receive()
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if reply.Header.MessageID != want || reply.Type() != protocol.MessageSuccess {
			t.Fatalf("expected SUCCESS for %d, got %s for %d", want, reply.Type(), reply.Header.MessageID)
		}
	}
}

func TestBadCredentialsHangUp(t *testing.T) {
	ts := startServer(t, nil)
	c := dial(t, ts.addr)
	_, err := c.Hello("wirectl-test/1", "neo", "blue-pill")
	var failure *client.FailureError
	if !errors.As(err, &failure) || failure.Code != session.CodeUnauthorized {
		t.Fatalf("expected unauthorized failure, got %v", err)
	}
	if _, err := c.Receive(); err == nil {
		t.Fatal("expected hang up after failed auth")
	}
}

func TestDecodeFailureClosesConnection(t *testing.T) {
	ts := startServer(t, nil)
	c := dial(t, ts.addr)
	if _, err := c.Hello("wirectl-test/1", "neo", "red-pill"); err != nil {
		t.Fatalf("hello: %v", err)
	}
	garbage := make([]byte, protocol.HeaderSize)
	copy(garbage, "not a frame")
	if _, err := c.Raw().Write(garbage); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if _, err := c.Receive(); err == nil {
		t.Fatal("expected connection closed after decode failure")
	}
	waitFor(t, func() bool { return ts.srv.Registry().Len() == 0 })
}

func TestHandshakeWithoutCommonVersion(t *testing.T) {
	ts := startServer(t, nil)
	raw, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()
	_ = raw.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := handshake.Propose(raw, []uint32{9, 8}); !errors.Is(err, handshake.ErrNoCommonVersion) {
		t.Fatalf("expected ErrNoCommonVersion, got %v", err)
	}
	if ts.srv.Registry().Len() != 0 {
		t.Fatal("rejected handshake should not register a connection")
	}
}

func TestShutdownClosesLiveConnections(t *testing.T) {
	ts := startServer(t, nil)
	c := dial(t, ts.addr)
	if _, err := c.Hello("wirectl-test/1", "neo", "red-pill"); err != nil {
		t.Fatalf("hello: %v", err)
	}
	ts.stop(t)
	if _, err := c.Receive(); err == nil {
		t.Fatal("expected connection closed on shutdown")
	}
	if ts.srv.Ready() {
		t.Fatal("server should not be ready after shutdown")
	}
	ts.stop(t)
}

func TestMaxConnections(t *testing.T) {
	ts := startServer(t, func(c *Config) { c.Limits.MaxConnections = 1 })
	first := dial(t, ts.addr)
	if _, err := first.Hello("wirectl-test/1", "neo", "red-pill"); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if _, err := client.Dial(context.Background(), ts.addr, client.Options{Timeout: time.Second}); err == nil {
		t.Fatal("expected second connection to be refused")
	}
}

func TestMaxConnectionsCountsHandshakes(t *testing.T) {
	ts := startServer(t, func(c *Config) { c.Limits.MaxConnections = 1 })

	first, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	waitFor(t, func() bool { return ts.srv.InFlight() == 1 })

	second, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	_ = first.SetDeadline(time.Now().Add(2 * time.Second))
	_ = second.SetDeadline(time.Now().Add(2 * time.Second))
	if v, err := handshake.Propose(second, []uint32{1}); err == nil {
		t.Fatalf("second connection negotiated v%d past the limit", v)
	}
	if v, err := handshake.Propose(first, []uint32{1}); err != nil || v != 1 {
		t.Fatalf("first connection: v=%d err=%v", v, err)
	}
	waitFor(t, func() bool { return ts.srv.Registry().Len() == 1 })

	_ = first.Close()
	waitFor(t, func() bool { return ts.srv.InFlight() == 0 })
}

func TestAdminRoutes(t *testing.T) {
	ts := startServer(t, nil)
	router := ts.srv.AdminRouter()
	get := func(method, path string) (int, map[string]any) {
		req := httptest.NewRequest(method, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		var body map[string]any
		_ = json.Unmarshal(rr.Body.Bytes(), &body)
		return rr.Code, body
	}

	if code, body := get(http.MethodGet, "/health"); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", code, body)
	}
	if code, body := get(http.MethodGet, "/ready"); code != http.StatusOK || body["ready"] != true {
		t.Fatalf("ready: %d %v", code, body)
	}

	c := dial(t, ts.addr)
	connID, err := c.Hello("wirectl-test/1", "neo", "red-pill")
	if err != nil {
		t.Fatalf("hello: %v", err)
	}

	code, body := get(http.MethodGet, "/connections")
	if code != http.StatusOK {
		t.Fatalf("connections: %d", code)
	}
	list, _ := body["connections"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one connection, got %v", body)
	}
	if code, body := get(http.MethodGet, "/connections/"+connID); code != http.StatusOK || body["id"] != connID {
		t.Fatalf("connection detail: %d %v", code, body)
	}
	if code, _ := get(http.MethodGet, "/connections/missing"); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	if code, _ := get(http.MethodPost, "/connections/"+connID+"/close"); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if _, err := c.Receive(); err == nil {
		t.Fatal("expected kicked connection to close")
	}
	waitFor(t, func() bool { return ts.srv.Registry().Len() == 0 })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "wirectl_conn_accepted_total") {
		t.Fatalf("metrics missing connection counter: %d", rr.Code)
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "addr", mutate: func(c *Config) { c.Addr = " " }, want: "missing addr"},
		{name: "executor", mutate: func(c *Config) { c.Executor = "pool" }, want: "executor"},
		{name: "runner", mutate: func(c *Config) { c.Runner = "sql" }, want: "runner"},
		{name: "payload", mutate: func(c *Config) { c.Limits.MaxPayloadBytes = 0 }, want: "max_payload_bytes"},
		{name: "watermarks", mutate: func(c *Config) { c.Throttle.BacklogLow = 64 }, want: "backlog_low"},
		{name: "security", mutate: func(c *Config) { c.Security.Mode = "production" }, want: "tls required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestKVRunnerSharedAcrossConnections(t *testing.T) {
	ts := startServer(t, func(c *Config) { c.Runner = RunnerKV })

	writer := dial(t, ts.addr)
	if _, err := writer.Hello("wirectl-test/1", "neo", "red-pill"); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if _, err := writer.Run("PUT motd follow the white rabbit", nil); err != nil {
		t.Fatalf("put: %v", err)
	}

	reader := dial(t, ts.addr)
	if _, err := reader.Hello("wirectl-test/1", "neo", "red-pill"); err != nil {
		t.Fatalf("hello: %v", err)
	}
	got, err := reader.Run("GET motd", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "follow the white rabbit" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestMutualTLSListener(t *testing.T) {
	testlog.Start(t)
	files := tlstest.Loopback(t)

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.AdminAddr = ""
	cfg.Security = transport.Security{Mode: transport.SecurityModeProduction, TLS: transport.TLSConfig{
		Enabled: true, Mutual: true, CertFile: files.ServerCert, KeyFile: files.ServerKey, CAFile: files.CA,
	}}
	srv, err := New(cfg,
		WithAuthenticator(auth.NewUserTable(map[string]string{"neo": "red-pill"})),
		WithLogger(zerolog.Nop()),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	clientSec := transport.Security{Mode: transport.SecurityModeProduction, TLS: transport.TLSConfig{
		Enabled: true, Mutual: true, CertFile: files.ClientCert, KeyFile: files.ClientKey, CAFile: files.CA,
	}}
	c, err := client.Dial(context.Background(), ln.Addr().String(), client.Options{Security: clientSec, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if _, err := c.Hello("wirectl-test/1", "neo", "red-pill"); err != nil {
		t.Fatalf("hello over tls: %v", err)
	}

	plain := transport.Security{Mode: transport.SecurityModeDevelopment}
	if pc, err := client.Dial(context.Background(), ln.Addr().String(), client.Options{Security: plain, Timeout: 500 * time.Millisecond}); err == nil {
		_ = pc.Close()
		t.Fatal("expected plaintext dial to fail against tls listener")
	}
}
