package smtpfsm

import "strings"

// Action tells the caller what to do with the connection after a Response
// has been written to the client.
type Action int

const (
	// Continue reading the next command line as normal.
	Continue Action = iota
	// Close the connection after writing the response.
	Close
	// UpgradeTLS instructs the caller to perform a TLS handshake on the
	// underlying connection immediately after writing the response, then
	// resume reading command lines over the encrypted channel.
	UpgradeTLS
)

// Response is the result of handing a line to the state machine: an SMTP
// reply to write back to the client, plus an action describing anything
// else the caller needs to do.
type Response struct {
	Code    int
	Lines   []string
	IsError bool
	Action  Action
}

// Text joins the response lines with a single space, for callers that just
// want a one-line summary (logging, tests).
func (r Response) Text() string {
	return strings.Join(r.Lines, " ")
}

// Bytes renders the response in SMTP wire format: a multi-line reply uses
// "<code>-<text>" for all but the last line, and "<code> <text>" for the
// last, each terminated by CRLF.
func (r Response) Bytes() []byte {
	var b strings.Builder
	lines := r.Lines
	if len(lines) == 0 {
		lines = []string{""}
	}
	for i, line := range lines {
		sep := byte('-')
		if i == len(lines)-1 {
			sep = ' '
		}
		b.WriteString(itoa(r.Code))
		b.WriteByte(sep)
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func resp(code int, action Action, isError bool, lines ...string) Response {
	return Response{Code: code, Lines: lines, IsError: isError, Action: action}
}

// Fixed reply catalog. Names follow fsm.rs's response constants so the
// mapping between the two is obvious on inspection.
var (
	OK                     = resp(250, Continue, false, "OK")
	GOODBYE                = resp(221, Close, false, "Bye")
	BAD_SEQUENCE_COMMANDS  = resp(503, Continue, true, "Bad sequence of commands")
	BAD_HELLO              = resp(501, Continue, true, "Malformed domain name")
	START_TLS              = resp(220, UpgradeTLS, false, "Go ahead")
	START_DATA             = resp(354, Continue, false, "Start mail input; end with <CRLF>.<CRLF>")
	TRANSACTION_FAILED     = resp(554, Continue, true, "Transaction failed")
	INVALID_STATE          = resp(503, Continue, true, "Invalid state")
	EMPTY_RESPONSE         = Response{}
	VERIFY_RESPONSE        = resp(252, Continue, false, "Cannot verify user, but will accept message and attempt delivery")
	EMPTY_AUTH_CHALLENGE   = resp(334, Continue, false, "")
	AUTH_USERNAME_CHALLENGE = resp(334, Continue, false, "VXNlcm5hbWU6") // base64("Username:")
	AUTH_PASSWORD_CHALLENGE = resp(334, Continue, false, "UGFzc3dvcmQ6") // base64("Password:")
	AUTH_SUCCEEDED         = resp(235, Continue, false, "Authentication successful")
	AUTH_INVALID_CREDENTIALS = resp(535, Continue, true, "Authentication credentials invalid")
	AUTH_ALREADY_DONE      = resp(503, Continue, true, "Already authenticated")
	INVALID_COMMAND        = resp(500, Continue, true, "Invalid command")
	TOO_LONG               = resp(500, Continue, true, "Line too long")
	SYNTAX_ERROR           = resp(501, Continue, true, "Syntax error in parameters or arguments")
)

// IsEmpty reports whether r is the zero Response (no bytes written to the
// client at all). The DATA error-suppression path in state.go relies on
// this to silently drain a failed body without sending a reply per line.
func (r Response) IsEmpty() bool {
	return r.Code == 0 && len(r.Lines) == 0
}

// dynamicResponse builds a multi-line reply out of a fixed first line and a
// variable tail, used for the EHLO extension list.
func dynamicResponse(code int, firstLine string, rest []string) Response {
	lines := make([]string, 0, len(rest)+1)
	lines = append(lines, firstLine)
	lines = append(lines, rest...)
	return Response{Code: code, Lines: lines, Action: Continue}
}
