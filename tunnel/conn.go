package tunnel

import "net"

// preloadConn wraps a net.Conn to replay bytes that were read past the
// end of the proxy negotiation before further reads hit the underlying
// connection.
type preloadConn struct {
	net.Conn
	pre []byte
}

// newPreloadConn creates a connection that yields pre before conn's
// own bytes.
func newPreloadConn(conn net.Conn, pre []byte) net.Conn {
	return &preloadConn{Conn: conn, pre: pre}
}

// Read drains the preloaded bytes, then reads from the connection.
func (c *preloadConn) Read(b []byte) (int, error) {
	if len(c.pre) > 0 {
		n := copy(b, c.pre)
		c.pre = c.pre[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}

// CloseWrite propagates half-closes through the wrapper.
func (c *preloadConn) CloseWrite() error {
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}
