package smtpfsm

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrMalformedSASL is returned by DecodeSASLPlain when the decoded bytes
// don't split into three NUL-delimited fields. DecodeSASLLoginField never
// returns it: any successfully decoded string is accepted.
var ErrMalformedSASL = errors.New("smtpfsm: malformed SASL response")

// PlainCredentials is the decoded form of a SASL PLAIN response: the
// NUL-delimited triple authzid/authcid/password, per RFC 4616. authzid is
// almost always empty in practice and is not otherwise used by the engine.
type PlainCredentials struct {
	AuthzID  string
	Username string
	Password string
}

// DecodeSASLPlain base64-decodes s and splits it into its three NUL
// delimited fields per RFC 4616.
func DecodeSASLPlain(s string) (PlainCredentials, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PlainCredentials{}, err
	}
	parts := strings.SplitN(string(raw), "\x00", 3)
	if len(parts) != 3 {
		return PlainCredentials{}, ErrMalformedSASL
	}
	return PlainCredentials{AuthzID: parts[0], Username: parts[1], Password: parts[2]}, nil
}

// DecodeSASLLoginField base64-decodes a single AUTH LOGIN turn (username on
// the first turn, password on the second). Unlike PLAIN, LOGIN carries one
// field per challenge/response round trip, so this is called twice over the
// lifetime of a LOGIN authState.
func DecodeSASLLoginField(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// EncodeChallenge base64-encodes a server challenge string for embedding in
// a 334 continuation response.
func EncodeChallenge(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
