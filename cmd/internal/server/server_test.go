package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"lds.li/proxyauth/cmd/internal/config"
	"lds.li/proxyauth/cmd/internal/metrics"
	"lds.li/proxyauth/tunnel"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Listen.Addr = "localhost:0"
	cfg.Listen.Realm = "test"
	return cfg
}

func TestEndToEnd(t *testing.T) {
	echoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(w, r.Body)
	}))
	defer echoSrv.Close()
	echoAddr := strings.TrimPrefix(echoSrv.URL, "http://")

	cfg := testConfig()
	cfg.Listen.Credentials = map[string]string{"local": "hunter2"}

	m := metrics.New()
	s, err := New(cfg, zaptest.NewLogger(t), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	proxySrv := httptest.NewServer(s.Handler())
	defer proxySrv.Close()

	client, err := tunnel.NewClient(&tunnel.ClientConfig{
		ProxyURL: proxySrv.URL,
		Username: "local",
		Password: "hunter2",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	conn, err := client.DialContext(context.Background(), "tcp", echoAddr)
	if err != nil {
		t.Fatalf("failed to dial through local proxy: %v", err)
	}
	defer conn.Close()

	message := "through the daemon"
	req := fmt.Sprintf("POST / HTTP/1.1\r\nHost: %s\r\nContent-Length: %d\r\n\r\n%s",
		echoAddr, len(message), message)
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp := string(buf[:n]); !strings.Contains(resp, message) {
		t.Errorf("response does not contain echo: %s", resp)
	}
}

func TestUpstreamChaining(t *testing.T) {
	echoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(w, r.Body)
	}))
	defer echoSrv.Close()
	echoAddr := strings.TrimPrefix(echoSrv.URL, "http://")

	upstreamSrv := httptest.NewServer(tunnel.NewServer(&tunnel.ServerConfig{
		Credentials: map[string]string{"up": "stream"},
	}))
	defer upstreamSrv.Close()

	cfg := testConfig()
	cfg.Upstream.URL = upstreamSrv.URL
	cfg.Upstream.Username = "up"
	cfg.Upstream.Password = "stream"

	m := metrics.New()
	s, err := New(cfg, zaptest.NewLogger(t), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	proxySrv := httptest.NewServer(s.Handler())
	defer proxySrv.Close()

	client, err := tunnel.NewClient(&tunnel.ClientConfig{ProxyURL: proxySrv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	conn, err := client.DialContext(context.Background(), "tcp", echoAddr)
	if err != nil {
		t.Fatalf("failed to dial through chained proxies: %v", err)
	}
	conn.Close()
}

func TestRateLimiting(t *testing.T) {
	cfg := testConfig()
	cfg.Listen.RateLimit = config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		Burst:             1,
	}

	m := metrics.New()
	s, err := New(cfg, zaptest.NewLogger(t), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	connectReq := func(remoteAddr string) *http.Request {
		return &http.Request{
			Method:     http.MethodConnect,
			RequestURI: "example.com:80",
			RemoteAddr: remoteAddr,
		}
	}

	if err := s.onTunnel(context.Background(), connectReq("192.0.2.1:4444")); err != nil {
		t.Fatalf("first tunnel rejected: %v", err)
	}
	if err := s.onTunnel(context.Background(), connectReq("192.0.2.1:4444")); err == nil {
		t.Error("second tunnel allowed past the rate limit")
	}

	// A different client has its own bucket.
	if err := s.onTunnel(context.Background(), connectReq("192.0.2.2:4444")); err != nil {
		t.Errorf("other client rejected: %v", err)
	}
}

func TestIPLimiters(t *testing.T) {
	l := newIPLimiters(rate.Limit(0.001), 2)
	for i := 0; i < 2; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if l.allow("10.0.0.1") {
		t.Error("request allowed past burst")
	}
	if !l.allow("10.0.0.2") {
		t.Error("fresh IP denied")
	}
}

func TestCountingConn(t *testing.T) {
	m := metrics.New()
	a, b := net.Pipe()
	defer b.Close()

	m.TunnelsOpen.Inc()
	conn := newCountingConn(a, m)

	go func() {
		b.Write([]byte("12345"))
		io.Copy(io.Discard, b)
	}()

	buf := make([]byte, 16)
	if _, err := io.ReadFull(conn, buf[:5]); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := conn.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.Close()
	conn.Close() // gauge must only drop once

	if got := counterValue(t, m, "local_proxy_tunnel_bytes_total", "direction", "in"); got != 5 {
		t.Errorf("bytes in = %v, want 5", got)
	}
	if got := counterValue(t, m, "local_proxy_tunnel_bytes_total", "direction", "out"); got != 3 {
		t.Errorf("bytes out = %v, want 3", got)
	}
	if got := gaugeValue(t, m, "local_proxy_tunnels_open"); got != 0 {
		t.Errorf("tunnels open = %v, want 0", got)
	}
}

func counterValue(t *testing.T, m *metrics.Metrics, name, labelName, labelValue string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == labelName && l.GetValue() == labelValue {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func gaugeValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
