package negotiate

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Status reports where a negotiation stands after an Advance call.
type Status int

const (
	// NeedInput means the negotiator consumed what it could and is
	// waiting for more proxy response bytes.
	NeedInput Status = iota

	// NeedPrompt means the negotiator is waiting for the pending
	// PromptRequest to be answered or cancelled.
	NeedPrompt

	// Established means the proxy accepted the CONNECT request. Any
	// unconsumed input bytes belong to the tunnel.
	Established

	// Failed means the negotiation ended in an error or abort.
	Failed
)

// String returns a short name for the status, suitable for logs and
// metric labels.
func (s Status) String() string {
	switch s {
	case NeedInput:
		return "need-input"
	case NeedPrompt:
		return "need-prompt"
	case Established:
		return "established"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config seeds a Negotiator for one CONNECT attempt.
type Config struct {
	// Host and Port name the destination the proxy should connect to.
	Host string
	Port int

	// Username and Password are the configured proxy credentials.
	// Either or both may be empty. They are never sent on the first
	// request; they answer the first 407 challenge.
	Username string
	Password string

	// Interactive declares that the caller answers PromptRequests.
	// Without it, a 407 challenge the configured credentials cannot
	// satisfy is a terminal failure.
	Interactive bool
}

type state int

const (
	stateSend state = iota
	stateStatusLine
	stateHeaders
	stateBody
	statePrompt
	stateDone
)

// Negotiator drives one CONNECT negotiation. It is not safe for
// concurrent use; a single driver must own it.
type Negotiator struct {
	host        string
	port        int
	interactive bool

	username secretBuf
	password secretBuf

	state state
	out   []byte
	lines lineReader

	// sentFirst transitions false to true exactly once, when the first
	// request (deliberately credential-free) is emitted.
	sentFirst bool

	// tryConfCreds is set while the configured credentials have not yet
	// been presented; it buys exactly one automatic retry on a 407.
	tryConfCreds bool

	statusCode    int
	statusText    string
	contentLength uint64
	bodyRemaining uint64
	closing       bool

	prompt       *PromptRequest
	promptedUser bool

	err    error
	closed bool
}

// New creates a Negotiator for a single CONNECT attempt through an HTTP
// proxy to cfg.Host:cfg.Port. Close it when the outcome is terminal.
func New(cfg Config) *Negotiator {
	n := &Negotiator{
		host:        cfg.Host,
		port:        cfg.Port,
		interactive: cfg.Interactive,
		state:       stateSend,
	}
	n.username.setString(cfg.Username)
	n.password.setString(cfg.Password)
	if !n.username.empty() || !n.password.empty() {
		n.tryConfCreds = true
	}
	return n
}

// Advance feeds response bytes to the negotiation and runs it as far as
// it can go. It consumes a prefix of in and returns how many bytes it
// took; the caller must not present those bytes again. Anything the
// negotiator keeps is copied, so the caller may reuse in afterwards.
//
// st is Failed exactly when err is non-nil. Calling Advance again with
// no new input when suspended returns the same status with consumed
// zero and no change of state, any number of times.
func (n *Negotiator) Advance(in []byte) (consumed int, st Status, err error) {
	if n.closed {
		return 0, Failed, ErrClosed
	}
	if n.err != nil {
		return 0, Failed, n.err
	}

	for {
		switch n.state {
		case stateSend:
			n.emitRequest()
			n.state = stateStatusLine

		case stateStatusLine:
			line, k, ok := n.lines.read(in[consumed:], false)
			consumed += k
			if !ok {
				return consumed, NeedInput, nil
			}
			if err := n.parseStatusLine(line); err != nil {
				return consumed, Failed, n.fail(err)
			}
			n.state = stateHeaders

		case stateHeaders:
			line, k, ok := n.lines.read(in[consumed:], true)
			consumed += k
			if !ok {
				return consumed, NeedInput, nil
			}
			if len(line) == 0 {
				n.bodyRemaining = n.contentLength
				n.state = stateBody
				continue
			}
			if err := n.processHeader(line); err != nil {
				return consumed, Failed, n.fail(err)
			}

		case stateBody:
			// Discard the response document, whatever the status, so
			// the stream stays aligned for a same-connection retry.
			if n.bodyRemaining > 0 {
				avail := uint64(len(in) - consumed)
				if avail < n.bodyRemaining {
					n.bodyRemaining -= avail
					return len(in), NeedInput, nil
				}
				consumed += int(n.bodyRemaining)
				n.bodyRemaining = 0
			}
			if err := n.decide(); err != nil {
				return consumed, Failed, n.fail(err)
			}

		case statePrompt:
			return consumed, NeedPrompt, nil

		case stateDone:
			return consumed, Established, nil
		}
	}
}

// TakeOutput returns the request bytes the negotiator wants on the wire
// and resets the output buffer. The caller owns the returned slice.
func (n *Negotiator) TakeOutput() []byte {
	out := n.out
	n.out = nil
	return out
}

// PendingPrompt returns the outstanding credential request, or nil when
// none is pending. The same request stays pending until answered or
// aborted; it is never re-issued across suspensions.
func (n *Negotiator) PendingPrompt() *PromptRequest {
	if n.closed || n.err != nil {
		return nil
	}
	return n.prompt
}

// SupplyPromptResponse answers the pending prompt. The values are
// copied into the negotiator's credential storage and the supplied
// buffers are zeroed. The next Advance call resends the CONNECT
// request with the new credentials.
func (n *Negotiator) SupplyPromptResponse(resp *PromptResponse) error {
	if n.closed {
		return ErrClosed
	}
	if n.err != nil {
		return n.err
	}
	if n.prompt == nil {
		return ErrNoPrompt
	}
	if resp == nil || len(resp.Values) != len(n.prompt.Fields) {
		want := len(n.prompt.Fields)
		got := 0
		if resp != nil {
			got = len(resp.Values)
		}
		return fmt.Errorf("negotiate: prompt response has %d values, want %d", got, want)
	}

	i := 0
	if n.promptedUser {
		n.username.set(resp.Values[i])
		zero(resp.Values[i])
		i++
	}
	n.password.set(resp.Values[i])
	zero(resp.Values[i])

	n.prompt = nil
	n.promptedUser = false
	n.state = stateSend
	return nil
}

// Abort ends the negotiation at the current suspension point, wiping
// credential storage. Subsequent Advance calls report ErrAborted. No
// partial outcome is reported.
func (n *Negotiator) Abort() {
	if n.closed || n.err != nil {
		return
	}
	n.prompt = nil
	n.fail(ErrAborted)
}

// Close wipes credential storage and renders the negotiator unusable.
// It is safe to call multiple times and in every outcome.
func (n *Negotiator) Close() error {
	n.closed = true
	n.prompt = nil
	n.username.wipe()
	n.password.wipe()
	return nil
}

// fail records the terminal error and wipes the credentials, which can
// no longer be needed.
func (n *Negotiator) fail(err error) error {
	n.err = err
	n.username.wipe()
	n.password.wipe()
	return err
}

func (n *Negotiator) emitRequest() {
	hostport := net.JoinHostPort(n.host, strconv.Itoa(n.port))
	n.out = fmt.Appendf(n.out, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", hostport, hostport)

	// The first request deliberately goes out bare: it probes whether
	// the proxy wants authentication at all before any secret is put on
	// the wire.
	if n.sentFirst {
		if !n.username.empty() || !n.password.empty() {
			n.out = append(n.out, "Proxy-Authorization: Basic "...)
			n.out = appendBasicAuth(n.out, &n.username, &n.password)
			n.out = append(n.out, '\r', '\n')
		}
	} else {
		n.sentFirst = true
	}
	n.out = append(n.out, '\r', '\n')

	// Fresh round trip: forget the previous response's framing.
	n.contentLength = 0
	n.closing = false
}

// parseStatusLine parses "HTTP/<major>.<minor> <code> <reason>". The
// code must be exactly three digits; the reason text is kept, digits
// included, for error reporting.
func (n *Negotiator) parseStatusLine(line []byte) error {
	rest, ok := bytes.CutPrefix(line, []byte("HTTP/"))
	if !ok {
		return ErrMalformedResponse
	}
	major, rest, ok := cutInt(rest)
	if !ok {
		return ErrMalformedResponse
	}
	rest, ok = bytes.CutPrefix(rest, []byte("."))
	if !ok {
		return ErrMalformedResponse
	}
	minor, rest, ok := cutInt(rest)
	if !ok {
		return ErrMalformedResponse
	}
	for len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\t') {
		rest = rest[1:]
	}
	d := 0
	for d < len(rest) && rest[d] >= '0' && rest[d] <= '9' {
		d++
	}
	if d != 3 {
		return ErrMalformedResponse
	}
	n.statusCode = int(rest[0]-'0')*100 + int(rest[1]-'0')*10 + int(rest[2]-'0')
	n.statusText = string(rest)

	// Before HTTP/1.1, connections close by default; a Connection
	// header may still override this either way.
	if major < 1 || (major == 1 && minor < 1) {
		n.closing = true
	}
	return nil
}

// processHeader applies one logical header line. Lines that do not
// parse are skipped rather than treated as fatal; the next one may make
// more sense.
func (n *Negotiator) processHeader(line []byte) error {
	sc := headerScanner{line: line}
	name, ok := sc.token()
	if !ok {
		return nil
	}
	kind := headerKinds[strings.ToLower(string(name))]
	if !sc.separator(':') {
		return nil
	}

	switch kind {
	case hdrContentLength:
		tok, ok := sc.token()
		if !ok {
			return nil
		}
		v, err := strconv.ParseUint(string(tok), 10, 64)
		if err != nil {
			// An unparsable length reads as zero.
			v = 0
		}
		n.contentLength = v

	case hdrConnection:
		tok, ok := sc.token()
		if !ok {
			return nil
		}
		if strings.EqualFold(string(tok), "close") {
			n.closing = true
		} else if strings.EqualFold(string(tok), "keep-alive") {
			n.closing = false
		}

	case hdrProxyAuthenticate:
		tok, ok := sc.token()
		if !ok {
			return nil
		}
		if !strings.EqualFold(string(tok), "Basic") {
			return fmt.Errorf("%w %q", ErrUnsupportedScheme, string(tok))
		}
	}
	return nil
}

// decide picks the next state once a full response has been read.
func (n *Negotiator) decide() error {
	switch {
	case n.statusCode >= 200 && n.statusCode < 300:
		n.state = stateDone
		return nil

	case n.statusCode == 407:
		if n.closing {
			return fmt.Errorf("%w: proxy is closing the connection after its challenge", ErrAuthUnavailable)
		}
		if n.tryConfCreds {
			// The one automatic retry: present the configured
			// credentials now that we know they are wanted.
			n.tryConfCreds = false
			n.state = stateSend
			return nil
		}
		if !n.interactive {
			return ErrAuthUnavailable
		}
		n.buildPrompt()
		n.state = statePrompt
		return nil

	default:
		return &StatusError{StatusCode: n.statusCode, Status: n.statusText}
	}
}

// buildPrompt asks for a username only when none is held; the password
// is always asked for again, since whatever we had was just rejected.
func (n *Negotiator) buildPrompt() {
	req := &PromptRequest{Title: promptTitle}
	n.promptedUser = n.username.empty()
	if n.promptedUser {
		req.Fields = append(req.Fields, PromptField{Label: usernameLabel})
	}
	req.Fields = append(req.Fields, PromptField{Label: passwordLabel, Masked: true})
	n.prompt = req
}

// cutInt cuts a leading run of ASCII digits from b. Runs longer than
// nine digits are rejected rather than risking overflow.
func cutInt(b []byte) (v int, rest []byte, ok bool) {
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	if i == 0 || i > 9 {
		return 0, b, false
	}
	v, _ = strconv.Atoi(string(b[:i]))
	return v, b[i:], true
}
