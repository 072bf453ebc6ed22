package tunnel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lds.li/proxyauth/negotiate"
)

// Client is a Dialer that tunnels connections through an HTTP/1.1
// CONNECT proxy. It also satisfies golang.org/x/net/proxy's Dialer and
// ContextDialer interfaces.
type Client struct {
	proxyAddr string
	proxyHost string
	useTLS    bool
	tlsConfig *tls.Config
	username  string
	password  string
	prompter  negotiate.Prompter
	dial      DialFunc
}

// NewClient creates a Client for the proxy described by cfg.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = &ClientConfig{}
	}

	proxyURL, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("tunnel: invalid proxy URL: %w", err)
	}
	if proxyURL.Scheme != "http" && proxyURL.Scheme != "https" {
		return nil, fmt.Errorf("tunnel: unsupported proxy scheme %q", proxyURL.Scheme)
	}

	useTLS := proxyURL.Scheme == "https"
	proxyAddr := proxyURL.Host
	if proxyURL.Port() == "" {
		if useTLS {
			proxyAddr = net.JoinHostPort(proxyAddr, "443")
		} else {
			proxyAddr = net.JoinHostPort(proxyAddr, "80")
		}
	}

	username, password := cfg.Username, cfg.Password
	if username == "" && password == "" && proxyURL.User != nil {
		username = proxyURL.User.Username()
		password, _ = proxyURL.User.Password()
	}

	dial := cfg.DialContext
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}

	return &Client{
		proxyAddr: proxyAddr,
		proxyHost: proxyURL.Hostname(),
		useTLS:    useTLS,
		tlsConfig: cfg.TLSConfig,
		username:  username,
		password:  password,
		prompter:  cfg.Prompter,
		dial:      dial,
	}, nil
}

// DialContext establishes a connection to address through the proxy.
// A context deadline bounds the whole negotiation; the returned
// connection carries no deadline.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: bad port %q", ErrInvalidTarget, portStr)
	}

	conn, err := c.dial(ctx, network, c.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxyConnect, err)
	}

	if c.useTLS {
		tlsConfig := c.tlsConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: c.proxyHost}
		} else if tlsConfig.ServerName == "" {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName = c.proxyHost
		}
		conn = tls.Client(conn, tlsConfig)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	neg := negotiate.New(negotiate.Config{
		Host:        host,
		Port:        port,
		Username:    c.username,
		Password:    c.password,
		Interactive: c.prompter != nil,
	})
	defer neg.Close()

	leftover, err := c.negotiate(ctx, conn, neg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetDeadline(time.Time{})

	if len(leftover) > 0 {
		return newPreloadConn(conn, leftover), nil
	}
	return conn, nil
}

// Dial establishes a connection to address through the proxy.
// See DialContext.
func (c *Client) Dial(network, address string) (net.Conn, error) {
	return c.DialContext(context.Background(), network, address)
}

// negotiate pumps bytes between conn and the negotiator until the
// tunnel is established or fails. It returns any bytes read past the
// end of the negotiation, which belong to the tunnel.
func (c *Client) negotiate(ctx context.Context, conn net.Conn, neg *negotiate.Negotiator) ([]byte, error) {
	buf := make([]byte, 4096)
	var pending []byte

	for {
		consumed, st, err := neg.Advance(pending)
		pending = pending[consumed:]
		if err != nil {
			return nil, err
		}

		if out := neg.TakeOutput(); len(out) > 0 {
			if _, err := conn.Write(out); err != nil {
				return nil, fmt.Errorf("%w: failed to write request: %v", ErrProxyConnect, err)
			}
		}

		switch st {
		case negotiate.Established:
			return pending, nil

		case negotiate.NeedPrompt:
			resp, err := c.prompter.Prompt(ctx, neg.PendingPrompt())
			if err != nil {
				neg.Abort()
				if errors.Is(err, negotiate.ErrAborted) || errors.Is(err, context.Canceled) {
					return nil, negotiate.ErrAborted
				}
				return nil, fmt.Errorf("tunnel: credential prompt failed: %w", err)
			}
			if err := neg.SupplyPromptResponse(resp); err != nil {
				return nil, err
			}

		case negotiate.NeedInput:
			n, err := conn.Read(buf)
			if n > 0 {
				pending = append(pending, buf[:n]...)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: failed to read response: %v", ErrProxyConnect, err)
			}
		}
	}
}
