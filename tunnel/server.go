package tunnel

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// NewServer creates an HTTP/1.1 CONNECT handler. It handles CONNECT
// requests by checking credentials when configured, hijacking the
// connection and establishing a bidirectional tunnel to the requested
// target.
func NewServer(cfg *ServerConfig) http.Handler {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	return &server{cfg: cfg}
}

type server struct {
	cfg *ServerConfig
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodConnect {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract target from RequestURI (e.g., "example.com:443")
	target := req.RequestURI
	if target == "" || target == "/" {
		http.Error(w, "Bad request: missing target", http.StatusBadRequest)
		return
	}

	if !s.authorize(w, req) {
		return
	}

	if err := s.cfg.checkTunnel(req.Context(), req); err != nil {
		s.cfg.getLogger().Printf("tunnel rejected: %v", err)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	dial := s.cfg.getDialFunc()
	upstream, err := dial(req.Context(), "tcp", target)
	if err != nil {
		s.cfg.getLogger().Printf("failed to dial %s: %v", target, err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	client, bufrw, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		s.cfg.getLogger().Printf("hijack failed: %v", err)
		return
	}

	_, err = bufrw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	if err != nil {
		client.Close()
		upstream.Close()
		s.cfg.getLogger().Printf("failed to write response: %v", err)
		return
	}
	if err = bufrw.Flush(); err != nil {
		client.Close()
		upstream.Close()
		s.cfg.getLogger().Printf("failed to flush response: %v", err)
		return
	}

	// Hijacked connections are independent of the HTTP request
	// lifecycle, so the relay runs under its own context.
	go s.relay(context.Background(), client, upstream)
}

// authorize enforces Basic proxy credentials when they are configured.
// Requests without acceptable credentials are answered with a 407
// challenge on a kept-alive connection, so the client can retry on the
// same connection, and false is returned.
func (s *server) authorize(w http.ResponseWriter, req *http.Request) bool {
	if s.cfg.Credentials == nil {
		return true
	}

	user, pass, ok := proxyBasicAuth(req)
	if ok {
		want, found := s.cfg.Credentials[user]
		if found && subtle.ConstantTimeCompare([]byte(pass), []byte(want)) == 1 {
			return true
		}
		s.cfg.getLogger().Printf("rejected credentials for %q from %s", user, req.RemoteAddr)
	}

	realm := s.cfg.Realm
	if realm == "" {
		realm = "proxy"
	}
	w.Header().Set("Proxy-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusProxyAuthRequired)
	io.WriteString(w, "Proxy authentication required\n")
	return false
}

// proxyBasicAuth extracts the credentials from a Proxy-Authorization
// header, the way Request.BasicAuth does for Authorization.
func proxyBasicAuth(req *http.Request) (username, password string, ok bool) {
	auth := req.Header.Get("Proxy-Authorization")
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	return username, password, true
}

// closeWriter is satisfied by connections that can shut down their
// write side independently, such as *net.TCPConn and *tls.Conn.
type closeWriter interface {
	CloseWrite() error
}

// relay performs bidirectional copying between the client and upstream
// connections, propagating half-closes.
func (s *server) relay(ctx context.Context, client, upstream net.Conn) {
	defer client.Close()
	defer upstream.Close()

	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(upstream, client)
		if cw, ok := upstream.(closeWriter); ok {
			cw.CloseWrite()
		}
		errCh <- err
	}()

	go func() {
		_, err := io.Copy(client, upstream)
		if cw, ok := client.(closeWriter); ok {
			cw.CloseWrite()
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return
	case err := <-errCh:
		if err != nil && err != io.EOF {
			s.cfg.getLogger().Printf("tunnel error: %v", err)
		}
		err2 := <-errCh
		if err2 != nil && err2 != io.EOF {
			s.cfg.getLogger().Printf("tunnel error: %v", err2)
		}
		return
	}
}
