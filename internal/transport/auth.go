package transport

import (
	"fmt"

	"github.com/fossas/broker/internal/secret"
)

// Auth is a tagged sum type of authentication schemes, one family per
// transport. New transports extend the tag and
// its matchers here rather than reaching for inheritance.
type Auth interface {
	isAuth()
	// The subprocess env/args contribution of each auth scheme is built by
	// GitTransport.isolate in git.go, which switches on the concrete type.
}

// SSHKeyFile authenticates using a private key already present on disk.
type SSHKeyFile struct {
	Path string
}

func (SSHKeyFile) isAuth() {}

// SSHKeyValue authenticates using a private key held in memory; it is
// written to a mode-0600 temp file for the duration of the subprocess.
type SSHKeyValue struct {
	Key secret.Value
}

func (SSHKeyValue) isAuth() {}

// HTTPNone means no credentials are sent. Rejected when paired with an
// SSH transport.
type HTTPNone struct{}

func (HTTPNone) isAuth() {}

// HTTPHeader injects the given header value verbatim via
// -c http.extraHeader.
type HTTPHeader struct {
	Header secret.Value
}

func (HTTPHeader) isAuth() {}

// HTTPBasic authenticates with a username and password, base64-encoded
// into an Authorization: Basic header.
type HTTPBasic struct {
	Username string
	Password secret.Value
}

func (HTTPBasic) isAuth() {}

// Scheme distinguishes which family of Auth a Transport expects.
type Scheme int

const (
	SchemeSSH Scheme = iota
	SchemeHTTP
)

func (s Scheme) String() string {
	if s == SchemeSSH {
		return "ssh"
	}
	return "http"
}

// ErrSchemeMismatch is returned when an Auth value is paired with a
// Transport of the wrong Scheme (e.g. HTTPBasic on an ssh:// remote, or
// the "none" auth on an ssh transport).
var ErrSchemeMismatch = fmt.Errorf("transport: auth scheme does not match transport scheme")

// ValidateAuth checks that auth belongs to scheme's family.
func ValidateAuth(scheme Scheme, auth Auth) error {
	switch auth.(type) {
	case SSHKeyFile, SSHKeyValue:
		if scheme != SchemeSSH {
			return ErrSchemeMismatch
		}
	case HTTPNone, HTTPHeader, HTTPBasic:
		if scheme != SchemeHTTP {
			return ErrSchemeMismatch
		}
		if scheme == SchemeSSH {
			return ErrSchemeMismatch
		}
	}
	// ssh+none is rejected: there is no SSHNone variant at all, and
	// HTTPNone on SchemeSSH fails the HTTP-family check above. Auth values
	// of any other type (including nil) are not checked and pass.
	return nil
}
