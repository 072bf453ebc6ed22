package negotiate

// headerKind identifies the response headers the negotiator acts on.
type headerKind int

const (
	hdrUnknown headerKind = iota
	hdrConnection
	hdrContentLength
	hdrProxyAuthenticate
)

// headerKinds maps lower-cased field names to their kind. Unlisted
// names map to hdrUnknown.
var headerKinds = map[string]headerKind{
	"connection":         hdrConnection,
	"content-length":     hdrContentLength,
	"proxy-authenticate": hdrProxyAuthenticate,
}

// Whitespace for header scanning is space, tab and newline. Newlines
// occur mid-line in folded headers; carriage returns are ordinary token
// bytes, so a fold written with CRLF leaves the CR attached to the
// preceding token.
func isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n'
}

func isSeparator(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"',
		'/', '[', ']', '?', '=', '{', '}':
		return true
	}
	return false
}

// headerScanner walks one logical header line, yielding tokens under
// the HTTP/1.1 field grammar: a token is a maximal run of bytes that
// are neither whitespace nor separators, after skipping leading
// whitespace.
type headerScanner struct {
	line []byte
	pos  int
}

// token returns the next token, or ok=false at end of line or when the
// next non-whitespace byte is a separator.
func (sc *headerScanner) token() (tok []byte, ok bool) {
	for sc.pos < len(sc.line) && isWhitespace(sc.line[sc.pos]) {
		sc.pos++
	}
	if sc.pos == len(sc.line) || isSeparator(sc.line[sc.pos]) {
		return nil, false
	}
	start := sc.pos
	for sc.pos < len(sc.line) &&
		!isWhitespace(sc.line[sc.pos]) &&
		!isSeparator(sc.line[sc.pos]) {
		sc.pos++
	}
	return sc.line[start:sc.pos], true
}

// separator skips leading whitespace and consumes c if it is the next
// byte.
func (sc *headerScanner) separator(c byte) bool {
	for sc.pos < len(sc.line) && isWhitespace(sc.line[sc.pos]) {
		sc.pos++
	}
	if sc.pos == len(sc.line) || sc.line[sc.pos] != c {
		return false
	}
	sc.pos++
	return true
}
