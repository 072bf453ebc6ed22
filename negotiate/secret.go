package negotiate

import "encoding/base64"

// secretBuf owns a byte buffer holding sensitive material. The backing
// storage is zeroed on every replacement and on wipe, so stale copies
// of a credential never linger in reachable memory.
type secretBuf struct {
	b []byte
}

// set replaces the contents with a copy of v, wiping the old storage.
func (s *secretBuf) set(v []byte) {
	s.wipe()
	if len(v) == 0 {
		return
	}
	s.b = make([]byte, len(v))
	copy(s.b, v)
}

// setString replaces the contents with a copy of v, wiping the old
// storage.
func (s *secretBuf) setString(v string) {
	s.wipe()
	if v == "" {
		return
	}
	s.b = append([]byte(nil), v...)
}

// wipe zeroes and releases the storage.
func (s *secretBuf) wipe() {
	zero(s.b)
	s.b = nil
}

func (s *secretBuf) empty() bool {
	return len(s.b) == 0
}

// zero overwrites b in place.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// appendBasicAuth appends the Basic authentication parameter for the
// given credentials to dst: the standard-alphabet Base64 encoding of
// "user:pass". The intermediate plaintext and the encoding scratch are
// zeroed before returning; only the bytes appended to dst survive.
func appendBasicAuth(dst []byte, user, pass *secretBuf) []byte {
	plain := make([]byte, 0, len(user.b)+1+len(pass.b))
	plain = append(plain, user.b...)
	plain = append(plain, ':')
	plain = append(plain, pass.b...)

	enc := make([]byte, base64.StdEncoding.EncodedLen(len(plain)))
	base64.StdEncoding.Encode(enc, plain)
	dst = append(dst, enc...)

	zero(plain)
	zero(enc)
	return dst
}
