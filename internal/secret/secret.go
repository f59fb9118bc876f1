// Package secret wraps sensitive values (credentials, passwords, SSH keys)
// so they cannot leak through logging, error messages, or diagnostics by
// accident. Every secret in the broker — transport credentials, the
// service bearer key — flows through a Value from the moment it is read
// out of the configuration file to the moment it is handed to a
// subprocess or HTTP client.
package secret

import (
	"crypto/subtle"
	"fmt"
)

// redacted is printed in place of the real value by every formatting verb.
const redacted = "<redacted>"

// Value is a move-only owned secret. The zero Value is empty, not unset —
// callers that need to distinguish "no secret configured" from "empty
// secret" should track that separately (see transport.Auth).
type Value struct {
	b []byte
}

// New wraps b in a Value. The caller should not retain b afterwards.
func New(b []byte) Value {
	return Value{b: append([]byte(nil), b...)}
}

// NewString wraps s in a Value.
func NewString(s string) Value {
	return New([]byte(s))
}

// Expose returns the underlying bytes. Only call this at the point of use
// (building a subprocess environment, an HTTP header) — never log, print,
// or store the result.
func (v Value) Expose() []byte {
	return v.b
}

// ExposeString is Expose as a string.
func (v Value) ExposeString() string {
	return string(v.b)
}

// IsZero reports whether the secret holds no bytes at all.
func (v Value) IsZero() bool {
	return len(v.b) == 0
}

// String implements fmt.Stringer. Always returns the redaction literal.
func (v Value) String() string {
	return redacted
}

// GoString implements fmt.GoStringer so %#v also redacts.
func (v Value) GoString() string {
	return redacted
}

// Format implements fmt.Formatter so every verb (%s, %v, %q, ...) redacts,
// rather than falling through to the unexported field via reflection.
func (v Value) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, redacted)
}

// Equal reports whether two secrets hold the same bytes. The comparison
// runs in time independent of a length mismatch: both values are padded
// to the longer of the two lengths before the constant-time compare, and
// the padding itself is folded into the result so a length difference
// cannot be distinguished from a content difference by timing alone.
func (v Value) Equal(other Value) bool {
	a, b := v.b, other.b
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	pa := make([]byte, n)
	pb := make([]byte, n)
	copy(pa, a)
	copy(pb, b)

	eq := subtle.ConstantTimeCompare(pa, pb) == 1
	lenEq := len(a) == len(b)
	return eq && lenEq
}
