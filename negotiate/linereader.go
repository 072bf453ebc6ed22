package negotiate

// lineReader reassembles a byte stream into logical lines, preserving
// partial progress between calls so the negotiator can suspend on an
// incomplete line and resume later without re-reading anything.
//
// In header mode a newline does not necessarily end the line: if the
// byte after it is a space or tab, the newline was a continuation fold
// and the logical line keeps accumulating. Deciding that requires
// peeking one byte past the newline, so a non-empty header line only
// completes once its successor byte has been seen. The peeked byte is
// left unconsumed for the next read. An empty line (just the line
// terminator) ends the header section and completes immediately; no
// continuation can follow it.
type lineReader struct {
	buf      []byte
	needPeek bool
}

// read consumes bytes from in until a line completes or in runs out.
// It returns the completed line with its trailing newline (and any
// preceding carriage return) stripped, the number of bytes consumed,
// and whether a line was produced. Fold bytes stay embedded in the
// line; only the final terminator is stripped.
func (r *lineReader) read(in []byte, header bool) (line []byte, n int, ok bool) {
	for {
		if r.needPeek {
			if n == len(in) {
				return nil, n, false
			}
			c := in[n]
			if c == ' ' || c == '\t' {
				// Continuation fold: the line goes on.
				r.buf = append(r.buf, c)
				n++
				r.needPeek = false
				continue
			}
			r.needPeek = false
			return r.complete(), n, true
		}

		if n == len(in) {
			return nil, n, false
		}
		c := in[n]
		r.buf = append(r.buf, c)
		n++
		if c != '\n' {
			continue
		}
		if !header {
			return r.complete(), n, true
		}
		if len(r.buf) == 1 || (len(r.buf) == 2 && r.buf[0] == '\r') {
			// Blank line: end of the header section.
			return r.complete(), n, true
		}
		r.needPeek = true
	}
}

func (r *lineReader) complete() []byte {
	line := r.buf
	r.buf = nil
	if k := len(line); k > 0 && line[k-1] == '\n' {
		line = line[:k-1]
	}
	if k := len(line); k > 0 && line[k-1] == '\r' {
		line = line[:k-1]
	}
	return line
}
