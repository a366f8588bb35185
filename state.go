package smtpfsm

import "strings"

// TLSState is the three-valued state of the transport's encryption layer.
type TLSState int

const (
	// TLSUnavailable means the transport never offers STARTTLS at all.
	TLSUnavailable TLSState = iota
	// TLSInactive means STARTTLS is offered but the session is still in
	// the clear.
	TLSInactive
	// TLSActive means the session has completed a TLS handshake.
	TLSActive
)

// AuthState is the three-valued state of SASL authentication. It is kept
// distinct from a boolean on purpose: RequiresAuth and Authenticated are
// both "auth is configured" states that behave differently, and collapsing
// them loses the distinction a failed auth attempt needs (a failed attempt
// drops back to RequiresAuth, never to Unavailable).
type AuthState int

const (
	// AuthUnavailable means the session was configured with no mechanisms
	// at all; AUTH is never offered or accepted.
	AuthUnavailable AuthState = iota
	// AuthRequiresAuth means mechanisms are configured but the session has
	// not yet completed a successful AUTH exchange.
	AuthRequiresAuth
	// AuthAuthenticated means a SASL exchange has succeeded.
	AuthAuthenticated
)

// AuthMechanism identifies a supported SASL mechanism.
type AuthMechanism int

const (
	MechPlain AuthMechanism = iota
	MechLogin
)

func (m AuthMechanism) extension() string {
	switch m {
	case MechPlain:
		return "PLAIN"
	case MechLogin:
		return "LOGIN"
	default:
		return ""
	}
}

// sessionState is the tagged-variant equivalent of fsm.rs's boxed State
// trait object: one implementation per protocol state, dispatching on the
// incoming Command. handle returns the response to write and the state to
// move to; a nil next state means the connection should close.
type sessionState interface {
	name() string
	handle(fsm *StateMachine, h Handler, cmd Command) (Response, sessionState)
}

// lineProcessor is the optional override most states don't need: by
// default a raw line is parsed into a Command via ParseLine and handed to
// handle. Auth (SASL continuation lines) and Data (the message body) parse
// differently, so they implement this themselves.
type lineProcessor interface {
	processLine(h Handler, line string) (cmd Command, resp Response, isCommand bool)
}

func defaultProcessLine(line string) (Command, Response, bool) {
	cmd, err := ParseLine(line)
	if err != nil {
		return Command{}, resp(500, Continue, true, "Syntax error: "+err.Error()), false
	}
	return cmd, Response{}, true
}

// advance implements the one rule that governs every transition in this
// engine: close on a Close action, stay on the current state on an error
// response, otherwise move to the state onSuccess builds.
func advance(res Response, current sessionState, onSuccess func() sessionState) (Response, sessionState) {
	if res.Action == Close {
		return res, nil
	}
	if res.IsError {
		return res, current
	}
	return res, onSuccess()
}

func unhandled(current sessionState) (Response, sessionState) {
	return BAD_SEQUENCE_COMMANDS, current
}

// defaultHandler covers the commands valid from (almost) any state: QUIT,
// HELO/EHLO, NOOP. Everything else is BAD_SEQUENCE_COMMANDS.
func defaultHandler(current sessionState, fsm *StateMachine, h Handler, cmd Command) (Response, sessionState) {
	switch cmd.Kind {
	case CmdQuit:
		return GOODBYE, nil
	case CmdHelo:
		return fsm.handleHelo(current, h, cmd.Domain)
	case CmdEhlo:
		return fsm.handleEhlo(current, h, cmd.Domain)
	case CmdNoop:
		return OK, current
	default:
		return unhandled(current)
	}
}

func (fsm *StateMachine) handleHelo(current sessionState, h Handler, domain string) (Response, sessionState) {
	if fsm.authState != AuthUnavailable {
		// A session that requires auth must use EHLO, not HELO.
		return BAD_HELLO, current
	}
	res := h.Helo(fsm.PeerIP, domain)
	return advance(res, current, func() sessionState { return &helloState{domain: domain} })
}

func (fsm *StateMachine) handleEhlo(current sessionState, h Handler, domain string) (Response, sessionState) {
	res := h.Helo(fsm.PeerIP, domain)
	if res.Code == 250 {
		res = fsm.ehloResponse()
	}
	if fsm.authState == AuthUnavailable {
		return advance(res, current, func() sessionState { return &helloState{domain: domain} })
	}
	return advance(res, current, func() sessionState { return &helloAuthState{domain: domain} })
}

func (fsm *StateMachine) handleRset(domain string) (Response, sessionState) {
	if fsm.authState == AuthUnavailable {
		return OK, &helloState{domain: domain}
	}
	return OK, &helloAuthState{domain: domain}
}

// authenticatePlain decodes and forwards a SASL PLAIN attempt, updating
// authState the same way on every path: Authenticated on a 235, otherwise
// back to RequiresAuth (never Unavailable, even though the session started
// with mechanisms configured).
func (fsm *StateMachine) authenticatePlain(h Handler, raw string) Response {
	creds, err := DecodeSASLPlain(raw)
	if err != nil {
		fsm.authState = AuthRequiresAuth
		fsm.tracef("malformed SASL PLAIN response: %v", err)
		return AUTH_INVALID_CREDENTIALS
	}
	res := h.AuthPlain(creds)
	if res.Code == 235 {
		fsm.authState = AuthAuthenticated
	} else {
		fsm.authState = AuthRequiresAuth
	}
	return res
}

func (fsm *StateMachine) authenticateLogin(h Handler, username, rawPassword string) Response {
	password, err := DecodeSASLLoginField(rawPassword)
	if err != nil {
		fsm.authState = AuthRequiresAuth
		fsm.tracef("malformed SASL LOGIN password: %v", err)
		return AUTH_INVALID_CREDENTIALS
	}
	res := h.AuthLogin(username, password)
	if res.Code == 235 {
		fsm.authState = AuthAuthenticated
	} else {
		fsm.authState = AuthRequiresAuth
	}
	return res
}

func (fsm *StateMachine) tracef(format string, a ...interface{}) {
	if fsm.Tracer != nil {
		fsm.Tracer.Debugf(format, a...)
	}
}

//------------------------------------------------------------------------

type idleState struct{}

func (s *idleState) name() string { return "Idle" }

func (s *idleState) handle(fsm *StateMachine, h Handler, cmd Command) (Response, sessionState) {
	switch cmd.Kind {
	case CmdStartedTLS:
		fsm.tls = TLSActive
		return EMPTY_RESPONSE, s
	case CmdRset:
		return OK, s
	default:
		return defaultHandler(s, fsm, h, cmd)
	}
}

//------------------------------------------------------------------------

type helloState struct {
	domain string
}

func (s *helloState) name() string { return "Hello" }

func (s *helloState) handle(fsm *StateMachine, h Handler, cmd Command) (Response, sessionState) {
	switch cmd.Kind {
	case CmdMail:
		res := h.Mail(fsm.PeerIP, s.domain, cmd.ReversePath, cmd.Is8Bit)
		domain := s.domain
		return advance(res, s, func() sessionState {
			return &mailState{domain: domain, reversePath: cmd.ReversePath, is8bit: cmd.Is8Bit}
		})
	case CmdStartTLS:
		if fsm.tls == TLSInactive {
			return START_TLS, &idleState{}
		}
		return unhandled(s)
	case CmdVrfy:
		return VERIFY_RESPONSE, s
	case CmdRset:
		return fsm.handleRset(s.domain)
	default:
		return defaultHandler(s, fsm, h, cmd)
	}
}

//------------------------------------------------------------------------

type helloAuthState struct {
	domain string
}

func (s *helloAuthState) name() string { return "HelloAuth" }

func (s *helloAuthState) handle(fsm *StateMachine, h Handler, cmd Command) (Response, sessionState) {
	switch cmd.Kind {
	case CmdStartTLS:
		return START_TLS, &idleState{}
	case CmdAuthPlain:
		if !fsm.allowAuthPlain() {
			return unhandled(s)
		}
		domain := s.domain
		res := fsm.authenticatePlain(h, cmd.InitialResponse)
		return advance(res, s, func() sessionState { return &helloState{domain: domain} })
	case CmdAuthPlainEmpty:
		if !fsm.allowAuthPlain() {
			return unhandled(s)
		}
		return EMPTY_AUTH_CHALLENGE, &authState{domain: s.domain, mechanism: MechPlain}
	case CmdAuthLogin:
		if !fsm.allowAuthLogin() {
			return unhandled(s)
		}
		username, err := DecodeSASLLoginField(cmd.InitialResponse)
		if err != nil {
			fsm.authState = AuthRequiresAuth
			fsm.tracef("malformed SASL LOGIN username: %v", err)
			return AUTH_INVALID_CREDENTIALS, s
		}
		return AUTH_PASSWORD_CHALLENGE, &authState{domain: s.domain, mechanism: MechLogin, username: &username, haveUsername: true}
	case CmdAuthLoginEmpty:
		if !fsm.allowAuthLogin() {
			return unhandled(s)
		}
		return AUTH_USERNAME_CHALLENGE, &authState{domain: s.domain, mechanism: MechLogin}
	case CmdRset:
		return fsm.handleRset(s.domain)
	default:
		return defaultHandler(s, fsm, h, cmd)
	}
}

//------------------------------------------------------------------------

// authState collects one SASL continuation exchange. For LOGIN, it is
// visited once per credential (username, then password); haveUsername
// distinguishes those two turns from a zero-value empty username.
type authState struct {
	domain       string
	mechanism    AuthMechanism
	username     *string
	haveUsername bool
}

func (s *authState) name() string { return "Auth" }

func (s *authState) processLine(h Handler, line string) (Command, Response, bool) {
	return ParseAuthResponse(line), Response{}, true
}

func (s *authState) handle(fsm *StateMachine, h Handler, cmd Command) (Response, sessionState) {
	if cmd.Kind != CmdAuthResponse {
		return unhandled(s)
	}
	domain := s.domain
	switch s.mechanism {
	case MechPlain:
		res := fsm.authenticatePlain(h, cmd.Line)
		if res.IsError {
			return res, &helloAuthState{domain: domain}
		}
		return res, &helloState{domain: domain}
	case MechLogin:
		if !s.haveUsername {
			username, err := DecodeSASLLoginField(cmd.Line)
			if err != nil {
				fsm.authState = AuthRequiresAuth
				fsm.tracef("malformed SASL LOGIN username: %v", err)
				return AUTH_INVALID_CREDENTIALS, &helloAuthState{domain: domain}
			}
			s.username = &username
			s.haveUsername = true
			return AUTH_PASSWORD_CHALLENGE, s
		}
		res := fsm.authenticateLogin(h, *s.username, cmd.Line)
		if res.IsError {
			return res, &helloAuthState{domain: domain}
		}
		return res, &helloState{domain: domain}
	default:
		return unhandled(s)
	}
}

//------------------------------------------------------------------------

type mailState struct {
	domain      string
	reversePath string
	is8bit      bool
}

func (s *mailState) name() string { return "Mail" }

func (s *mailState) handle(fsm *StateMachine, h Handler, cmd Command) (Response, sessionState) {
	switch cmd.Kind {
	case CmdRcpt:
		res := h.Rcpt(cmd.ForwardPath)
		return advance(res, s, func() sessionState {
			return &rcptState{
				domain:       s.domain,
				reversePath:  s.reversePath,
				is8bit:       s.is8bit,
				forwardPaths: []string{cmd.ForwardPath},
			}
		})
	case CmdRset:
		return fsm.handleRset(s.domain)
	default:
		return defaultHandler(s, fsm, h, cmd)
	}
}

//------------------------------------------------------------------------

type rcptState struct {
	domain       string
	reversePath  string
	is8bit       bool
	forwardPaths []string
}

func (s *rcptState) name() string { return "Rcpt" }

func (s *rcptState) handle(fsm *StateMachine, h Handler, cmd Command) (Response, sessionState) {
	switch cmd.Kind {
	case CmdData:
		res := h.DataStart(s.domain, s.reversePath, s.is8bit, s.forwardPaths)
		if !res.IsError {
			res = START_DATA
		}
		return advance(res, s, func() sessionState { return &dataState{domain: s.domain} })
	case CmdRcpt:
		res := h.Rcpt(cmd.ForwardPath)
		return advance(res, s, func() sessionState {
			fp := make([]string, len(s.forwardPaths), len(s.forwardPaths)+1)
			copy(fp, s.forwardPaths)
			fp = append(fp, cmd.ForwardPath)
			return &rcptState{
				domain:       s.domain,
				reversePath:  s.reversePath,
				is8bit:       s.is8bit,
				forwardPaths: fp,
			}
		})
	case CmdRset:
		return fsm.handleRset(s.domain)
	default:
		return defaultHandler(s, fsm, h, cmd)
	}
}

//------------------------------------------------------------------------

// dataState accepts the message body one line at a time via processLine,
// never through handle's Command dispatch (handle only ever sees the
// synthetic DataEnd command once the terminating line arrives).
//
// A Handler.Data error does not abort the transaction mid-stream: the wire
// framing (the client is still going to send a dot-terminated body) has to
// be honored regardless, so failed silently drains the remaining body
// lines and the 554 is reported once, at DataEnd, instead of once per
// remaining line.
type dataState struct {
	domain string
	failed bool
}

func (s *dataState) name() string { return "Data" }

func (s *dataState) processLine(h Handler, line string) (Command, Response, bool) {
	if IsDataTerminator(line) {
		return Command{Kind: CmdDataEnd}, Response{}, true
	}

	body := UnstuffDotLine(strings.TrimRight(line, "\r\n"))
	if s.failed {
		return Command{}, EMPTY_RESPONSE, false
	}

	res := h.Data([]byte(body))
	if res.IsError {
		s.failed = true
	}
	return Command{}, EMPTY_RESPONSE, false
}

func (s *dataState) handle(fsm *StateMachine, h Handler, cmd Command) (Response, sessionState) {
	if cmd.Kind != CmdDataEnd {
		return unhandled(s)
	}
	if s.failed {
		return TRANSACTION_FAILED, &helloState{domain: s.domain}
	}
	res := h.DataEnd()
	domain := s.domain
	return advance(res, s, func() sessionState { return &helloState{domain: domain} })
}

//------------------------------------------------------------------------

// StateMachine is one SMTP session: the current protocol state plus the
// session-scoped variables (peer address, TLS/auth posture, configured
// mechanisms) every state's transition logic consults.
type StateMachine struct {
	PeerIP string

	mechanisms                 []AuthMechanism
	authState                  AuthState
	tls                        TLSState
	current                    sessionState
	authPlain                  bool
	authLogin                  bool
	insecureAllowPlaintextAuth bool

	// Tracer receives advisory Debugf calls for malformed SASL input. It is
	// never required: a nil Tracer is silently skipped.
	Tracer Tracer
}

// NewStateMachine starts a new session in the Idle state.
//
// mechanisms is the ordered set of SASL mechanisms offered in EHLO's AUTH
// extension line; an empty slice makes AUTH unavailable for the whole
// session (authState starts, and stays, at AuthUnavailable). allowStartTLS
// controls whether STARTTLS is offered at all; insecureAllowPlaintextAuth
// lets AUTH succeed before TLS is active, which should only ever be true
// for a host that also refuses to listen on a plaintext network interface.
func NewStateMachine(peerIP string, mechanisms []AuthMechanism, allowStartTLS, insecureAllowPlaintextAuth bool) *StateMachine {
	authState := AuthUnavailable
	if len(mechanisms) > 0 {
		authState = AuthRequiresAuth
	}
	tls := TLSUnavailable
	if allowStartTLS {
		tls = TLSInactive
	}

	var hasPlain, hasLogin bool
	for _, m := range mechanisms {
		switch m {
		case MechPlain:
			hasPlain = true
		case MechLogin:
			hasLogin = true
		}
	}

	return &StateMachine{
		PeerIP:                     peerIP,
		mechanisms:                 mechanisms,
		authState:                  authState,
		tls:                        tls,
		current:                    &idleState{},
		authPlain:                  hasPlain,
		authLogin:                  hasLogin,
		insecureAllowPlaintextAuth: insecureAllowPlaintextAuth,
	}
}

// Command feeds one already-parsed Command into the state machine and
// returns the response to write back to the client. This is the Go
// equivalent of fsm.rs's StateMachine::command: pop the current state,
// dispatch, install whatever comes back (nil meaning the session is over).
func (fsm *StateMachine) Command(h Handler, cmd Command) Response {
	if fsm.current == nil {
		return INVALID_STATE
	}
	res, next := fsm.current.handle(fsm, h, cmd)
	fsm.current = next
	return res
}

// ProcessLine is the usual entry point: parse (or otherwise interpret, for
// Auth/Data states) one line of input and drive the state machine with it,
// in a single call. Returns EMPTY_RESPONSE when nothing should be written
// to the client (every Data body line that isn't the terminator).
func (fsm *StateMachine) ProcessLine(h Handler, line string) Response {
	if fsm.current == nil {
		return INVALID_STATE
	}

	var cmd Command
	var resp Response
	var isCommand bool
	if lp, ok := fsm.current.(lineProcessor); ok {
		cmd, resp, isCommand = lp.processLine(h, line)
	} else {
		cmd, resp, isCommand = defaultProcessLine(line)
	}

	if !isCommand {
		return resp
	}
	return fsm.Command(h, cmd)
}

// NotifyTLSEstablished delivers the synthetic command that moves a session
// from Idle into an encrypted Idle once the transport has completed the
// handshake START_TLS asked for. Calling this outside the Idle state
// following a START_TLS response is a caller bug; the engine never panics
// on it, it simply returns BAD_SEQUENCE_COMMANDS.
func (fsm *StateMachine) NotifyTLSEstablished(h Handler) Response {
	return fsm.Command(h, Command{Kind: CmdStartedTLS})
}

// StateName reports the current protocol state's name, for tests and
// diagnostics. It is never used for control flow by the engine itself.
func (fsm *StateMachine) StateName() string {
	if fsm.current == nil {
		return "Invalid"
	}
	return fsm.current.name()
}

// TLS reports the session's current TLS posture.
func (fsm *StateMachine) TLS() TLSState { return fsm.tls }

// Auth reports the session's current authentication posture.
func (fsm *StateMachine) Auth() AuthState { return fsm.authState }

func (fsm *StateMachine) ehloResponse() Response {
	return dynamicResponse(250, "server offers extensions:", fsm.ehloExtensions())
}

func (fsm *StateMachine) ehloExtensions() []string {
	ext := []string{"8BITMIME"}
	if fsm.tls == TLSInactive {
		ext = append(ext, "STARTTLS")
	}
	if fsm.allowAuth() && len(fsm.mechanisms) > 0 {
		line := "AUTH"
		for _, m := range fsm.mechanisms {
			line += " " + m.extension()
		}
		ext = append(ext, line)
	}
	return ext
}

func (fsm *StateMachine) allowAuthPlain() bool {
	return fsm.authPlain && fsm.allowAuth()
}

func (fsm *StateMachine) allowAuthLogin() bool {
	return fsm.authLogin && fsm.allowAuth()
}

func (fsm *StateMachine) allowAuth() bool {
	return fsm.insecureAllowPlaintextAuth || fsm.tls == TLSActive
}
