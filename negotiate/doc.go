// Package negotiate implements the client side of HTTP CONNECT proxy
// negotiation as a resumable state machine.
//
// A Negotiator is fed proxy response bytes as they arrive and hands back
// request bytes to put on the wire. It performs no I/O and never blocks:
// whenever it runs out of input, or needs an interactive credential
// prompt answered, it suspends and reports what it is waiting for. That
// makes it equally usable from a blocking dialer, an event loop, or a
// test feeding it one byte at a time.
//
// # Protocol
//
// The negotiator emits a CONNECT request for the configured destination,
// then parses the proxy's status line, header section (including folded
// continuation lines) and declared-length response body. The first
// request never carries credentials, so that a proxy which requires no
// authentication never sees them. A 407 challenge is answered once
// automatically with the configured credentials; if those are rejected
// (or absent) and the caller declared interactive capability, the
// negotiator issues a PromptRequest and resumes once it is answered.
// Only the Basic scheme is supported; any other Proxy-Authenticate
// value ends the negotiation.
//
// # Usage
//
//	neg := negotiate.New(negotiate.Config{
//	    Host:     "example.com",
//	    Port:     443,
//	    Username: "user",
//	    Password: "secret",
//	})
//	defer neg.Close()
//
//	var pending []byte
//	for {
//	    consumed, st, err := neg.Advance(pending)
//	    pending = pending[consumed:]
//	    if err != nil {
//	        return err
//	    }
//	    if out := neg.TakeOutput(); len(out) > 0 {
//	        conn.Write(out)
//	    }
//	    switch st {
//	    case negotiate.Established:
//	        // pending now holds tunnel bytes, if any arrived early
//	        return nil
//	    case negotiate.NeedPrompt:
//	        // answer neg.PendingPrompt(), then SupplyPromptResponse
//	    case negotiate.NeedInput:
//	        // read more bytes from conn into pending
//	    }
//	}
//
// Most callers want package tunnel instead, which drives a Negotiator
// over a net.Conn and returns a ready-to-use tunnel connection.
//
// # Secrets
//
// Credential bytes live in wiped storage: they are zeroed whenever they
// are replaced and when the negotiator is closed, in every outcome
// including user abort. Prompt response buffers are zeroed as soon as
// their contents are copied in.
package negotiate
