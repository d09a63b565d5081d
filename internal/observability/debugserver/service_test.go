package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "simplecron/pkg/logx"
)

func testSources() Sources {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "sample_total", Help: "sample"})
	reg.MustRegister(c)
	c.Inc()
	return Sources{
		Jobs:     func() any { return map[string]int{"jobs": 2} },
		Journal:  func(_ context.Context, n int) (any, error) { return []int{n}, nil },
		Gatherer: reg,
	}
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestHandlerEndpoints(t *testing.T) {
	t.Parallel()
	s := New(Config{}, testSources(), logx.Nop())
	h := s.Handler(Config{})

	code, body := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"ok"`)

	code, body = get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "sample_total 1")

	code, body = get(t, h, "/jobs", nil)
	assert.Equal(t, http.StatusOK, code)
	var jobs map[string]int
	require.NoError(t, json.Unmarshal([]byte(body), &jobs))
	assert.Equal(t, 2, jobs["jobs"])

	code, body = get(t, h, "/journal?n=7", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[7]`, body)

	code, _ = get(t, h, "/journal?n=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, h, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, h, "/debug/pprof", nil)
	assert.Equal(t, http.StatusPermanentRedirect, code)
}

func TestHandlerOptionalSources(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Sources{Health: func() error { return errors.New("journal down") }}, logx.Nop())
	h := s.Handler(Config{Prefix: "ops/pprof"})

	code, body := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "journal down")

	for _, p := range []string{"/metrics", "/jobs", "/journal"} {
		code, _ = get(t, h, p, nil)
		assert.Equal(t, http.StatusNotFound, code, p)
	}
	code, _ = get(t, h, "/ops/pprof/", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{}, testSources(), logx.Nop())
	h := s.Handler(Config{Token: "s3cret"})

	tests := []struct {
		name   string
		target string
		hdr    map[string]string
		want   int
	}{
		{name: "missing", target: "/jobs", want: http.StatusUnauthorized},
		{name: "bad query", target: "/jobs?token=nope", want: http.StatusUnauthorized},
		{name: "good query", target: "/jobs?token=s3cret", want: http.StatusOK},
		{name: "bearer", target: "/jobs", hdr: map[string]string{"Authorization": "Bearer s3cret"}, want: http.StatusOK},
		{name: "bad bearer", target: "/jobs", hdr: map[string]string{"Authorization": "Bearer x"}, want: http.StatusUnauthorized},
		{name: "basic scheme", target: "/jobs", hdr: map[string]string{"Authorization": "Basic s3cret"}, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		code, _ := get(t, h, tt.target, tt.hdr)
		assert.Equal(t, tt.want, code, tt.name)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:80":    false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultPrefix, normalizePrefix(""))
	assert.Equal(t, "/x/", normalizePrefix("x"))
	assert.Equal(t, "/x/y/", normalizePrefix("/x/y"))
}

func TestServeAndReconfigure(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testSources(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // idempotent
	defer s.Stop(ctx)

	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(b), "ok"))

	// Adding a token restarts the server with auth.
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "t"})
	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 5*time.Millisecond)
	resp, err = http.Get("http://" + s.Addr() + "/jobs")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
}

func TestRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}
