// Package server runs the daemon's local CONNECT listener, relaying
// tunnels directly or through an upstream proxy.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lds.li/proxyauth/cmd/internal/config"
	"lds.li/proxyauth/cmd/internal/metrics"
	"lds.li/proxyauth/termprompt"
	"lds.li/proxyauth/tunnel"
)

// Server is the local CONNECT proxy. Local clients speak plain HTTP
// CONNECT to it; outbound it either dials destinations directly or
// tunnels through the configured upstream proxy, negotiating Basic
// authentication as needed.
type Server struct {
	cfg     *config.Config
	log     *zap.Logger
	m       *metrics.Metrics
	limiter *ipLimiters

	handler http.Handler
	httpSrv *http.Server
}

// New builds the Server from the daemon configuration.
func New(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Server, error) {
	s := &Server{
		cfg: cfg,
		log: logger,
		m:   m,
	}

	if rl := cfg.Listen.RateLimit; rl.Enabled {
		s.limiter = newIPLimiters(rate.Limit(rl.RequestsPerSecond), rl.Burst)
	}

	dial, err := s.buildDial()
	if err != nil {
		return nil, err
	}

	s.handler = tunnel.NewServer(&tunnel.ServerConfig{
		Credentials: cfg.Listen.Credentials,
		Realm:       cfg.Listen.Realm,
		OnTunnel:    s.onTunnel,
		Dial:        dial,
		ErrorLog:    zap.NewStdLog(logger.Named("tunnel")),
	})
	s.httpSrv = &http.Server{
		Addr:    cfg.Listen.Addr,
		Handler: s.handler,
	}
	return s, nil
}

// Handler exposes the CONNECT handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// buildDial returns the outbound dial function: through the upstream
// proxy when one is configured, direct otherwise. Either way the
// resulting connections are wrapped for metrics.
func (s *Server) buildDial() (tunnel.DialFunc, error) {
	var dial tunnel.DialFunc
	if s.cfg.Upstream.URL != "" {
		clientCfg := &tunnel.ClientConfig{
			ProxyURL: s.cfg.Upstream.URL,
			Username: s.cfg.Upstream.Username,
			Password: s.cfg.Upstream.Password,
		}
		if s.cfg.Interactive {
			clientCfg.Prompter = termprompt.New()
		}
		client, err := tunnel.NewClient(clientCfg)
		if err != nil {
			return nil, fmt.Errorf("server: upstream: %w", err)
		}
		dial = client.DialContext
	} else {
		d := &net.Dialer{}
		dial = d.DialContext
	}

	return func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, err := dial(ctx, network, address)
		if err != nil {
			s.m.TunnelsTotal.WithLabelValues("dial_error").Inc()
			return nil, err
		}
		s.m.TunnelsTotal.WithLabelValues("established").Inc()
		s.m.TunnelsOpen.Inc()
		return newCountingConn(conn, s.m), nil
	}, nil
}

// onTunnel gates and logs each CONNECT request before it is dialed.
func (s *Server) onTunnel(ctx context.Context, req *http.Request) error {
	ip := clientIP(req.RemoteAddr)
	if s.limiter != nil && !s.limiter.allow(ip) {
		s.m.RateLimited.Inc()
		s.m.TunnelsTotal.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("rate limit exceeded for %s", ip)
	}
	s.log.Info("tunnel requested",
		zap.String("target", req.RequestURI),
		zap.String("client", ip),
	)
	return nil
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", s.cfg.Listen.Addr, err)
	}
	s.log.Info("proxy listening",
		zap.String("addr", s.cfg.Listen.Addr),
		zap.String("upstream", s.upstreamLabel()),
	)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("proxy server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting new tunnels. Established tunnels run on
// hijacked connections and are unaffected.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) upstreamLabel() string {
	if s.cfg.Upstream.URL == "" {
		return "direct"
	}
	return s.cfg.Upstream.URL
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// ipLimiters keeps one token bucket per client IP.
type ipLimiters struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	return &ipLimiters{
		m:     make(map[string]*rate.Limiter),
		limit: limit,
		burst: burst,
	}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.m[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.m[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// countingConn wraps an outbound tunnel connection to feed the byte
// counters and close-time gauges.
type countingConn struct {
	net.Conn
	m      *metrics.Metrics
	opened time.Time
	once   sync.Once
}

func newCountingConn(conn net.Conn, m *metrics.Metrics) net.Conn {
	return &countingConn{Conn: conn, m: m, opened: time.Now()}
}

func (c *countingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.m.TunnelBytes.WithLabelValues("in").Add(float64(n))
	}
	return n, err
}

func (c *countingConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.m.TunnelBytes.WithLabelValues("out").Add(float64(n))
	}
	return n, err
}

// CloseWrite propagates half-closes through the wrapper so the relay
// can signal end of the client-to-destination direction.
func (c *countingConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (c *countingConn) Close() error {
	c.once.Do(func() {
		c.m.TunnelsOpen.Dec()
		c.m.TunnelDuration.Observe(time.Since(c.opened).Seconds())
	})
	return c.Conn.Close()
}
