package negotiate

import (
	"encoding/base64"
	"strings"
	"testing"
)

// TestSecretBufWipeOnReplace tests that replacing a secret zeroes the
// old backing storage.
func TestSecretBufWipeOnReplace(t *testing.T) {
	var s secretBuf
	s.setString("hunter2")
	old := s.b

	s.set([]byte("swordfish"))
	for i, b := range old {
		if b != 0 {
			t.Fatalf("old storage byte %d = %#x after replacement, want 0", i, b)
		}
	}

	old = s.b
	s.wipe()
	for i, b := range old {
		if b != 0 {
			t.Fatalf("storage byte %d = %#x after wipe, want 0", i, b)
		}
	}
	if !s.empty() {
		t.Error("secretBuf not empty after wipe")
	}
}

// TestSecretBufCopies tests that set copies its input rather than
// aliasing it.
func TestSecretBufCopies(t *testing.T) {
	src := []byte("topsecret")
	var s secretBuf
	s.set(src)
	src[0] = 'X'
	if string(s.b) != "topsecret" {
		t.Errorf("stored value = %q, want %q", s.b, "topsecret")
	}
}

// TestAppendBasicAuth tests the rendered Basic parameter against known
// vectors and round-trips credentials of every length residue mod 3.
func TestAppendBasicAuth(t *testing.T) {
	tests := []struct {
		user, pass string
		want       string
	}{
		// len("user:pass") % 3 == 0
		{"user", "pass", "dXNlcjpwYXNz"},
		// len("ab:c") % 3 == 1
		{"ab", "c", "YWI6Yw=="},
		// len("x:yz1") % 3 == 2
		{"x", "yz1", "eDp5ejE="},
		// both credentials empty still encode the colon
		{"", "", "Og=="},
	}

	for _, tt := range tests {
		t.Run(tt.user+":"+tt.pass, func(t *testing.T) {
			var user, pass secretBuf
			user.setString(tt.user)
			pass.setString(tt.pass)

			got := string(appendBasicAuth(nil, &user, &pass))
			if got != tt.want {
				t.Errorf("appendBasicAuth = %q, want %q", got, tt.want)
			}

			decoded, err := base64.StdEncoding.DecodeString(got)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if string(decoded) != tt.user+":"+tt.pass {
				t.Errorf("round trip = %q, want %q", decoded, tt.user+":"+tt.pass)
			}
		})
	}
}

// TestAppendBasicAuthAppends tests that existing dst content survives.
func TestAppendBasicAuthAppends(t *testing.T) {
	var user, pass secretBuf
	user.setString("user")
	pass.setString("pass")

	out := appendBasicAuth([]byte("Proxy-Authorization: Basic "), &user, &pass)
	want := "Proxy-Authorization: Basic dXNlcjpwYXNz"
	if string(out) != want {
		t.Errorf("out = %q, want %q", out, want)
	}
	if !strings.HasSuffix(string(out), "dXNlcjpwYXNz") {
		t.Errorf("suffix missing from %q", out)
	}
}
