package tunnel

import (
	"context"
	"net"
	"net/url"

	"golang.org/x/net/proxy"
)

var (
	_ Dialer              = (*Client)(nil)
	_ proxy.Dialer        = (*Client)(nil)
	_ proxy.ContextDialer = (*Client)(nil)
)

// Registering with x/net/proxy lets proxy.FromURL, and anything built
// on it such as ALL_PROXY environment handling, produce CONNECT tunnel
// dialers for http and https proxy URLs.
func init() {
	proxy.RegisterDialerType("http", fromURL)
	proxy.RegisterDialerType("https", fromURL)
}

// FromURL creates a Client for the given proxy URL. The proxy
// connection itself is dialed through forward when it is non-nil,
// which allows stacking proxies. Userinfo in the URL supplies the
// proxy credentials.
func FromURL(u *url.URL, forward proxy.Dialer) (*Client, error) {
	cfg := &ClientConfig{ProxyURL: u.String()}
	if forward != nil {
		if cd, ok := forward.(proxy.ContextDialer); ok {
			cfg.DialContext = cd.DialContext
		} else {
			cfg.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
				return forward.Dial(network, address)
			}
		}
	}
	return NewClient(cfg)
}

func fromURL(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	c, err := FromURL(u, forward)
	if err != nil {
		return nil, err
	}
	return c, nil
}
