package smtpfsm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFullTransactionHappyPath(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", nil, false, true)

	if got := fsm.StateName(); got != "Idle" {
		t.Fatalf("initial state = %q, want Idle", got)
	}

	res := fsm.Command(h, Command{Kind: CmdHelo, Domain: "client.example"})
	if res.IsError || fsm.StateName() != "Hello" {
		t.Fatalf("HELO: res=%+v state=%s", res, fsm.StateName())
	}

	res = fsm.Command(h, Command{Kind: CmdMail, ReversePath: "a@example.com"})
	if res.IsError || fsm.StateName() != "Mail" {
		t.Fatalf("MAIL: res=%+v state=%s", res, fsm.StateName())
	}

	res = fsm.Command(h, Command{Kind: CmdRcpt, ForwardPath: "b@example.org"})
	if res.IsError || fsm.StateName() != "Rcpt" {
		t.Fatalf("RCPT: res=%+v state=%s", res, fsm.StateName())
	}

	res = fsm.Command(h, Command{Kind: CmdData})
	if res.IsError || res.Code != 354 || fsm.StateName() != "Data" {
		t.Fatalf("DATA: res=%+v state=%s", res, fsm.StateName())
	}

	if got := fsm.ProcessLine(h, "Subject: hi\r\n"); !got.IsEmpty() {
		t.Fatalf("body line: got %+v, want empty response", got)
	}
	if got := fsm.ProcessLine(h, "..double dot\r\n"); !got.IsEmpty() {
		t.Fatalf("dot-stuffed line: got %+v", got)
	}
	if got := fsm.ProcessLine(h, ".single dot\r\n"); !got.IsEmpty() {
		t.Fatalf("single leading dot line: got %+v", got)
	}

	res = fsm.ProcessLine(h, ".\r\n")
	if res.IsError || fsm.StateName() != "Hello" {
		t.Fatalf("DATA end: res=%+v state=%s", res, fsm.StateName())
	}

	want := [][]byte{[]byte("Subject: hi"), []byte(".double dot"), []byte("single dot")}
	if diff := cmp.Diff(want, h.dataLines); diff != "" {
		t.Errorf("data lines mismatch (-want +got):\n%s", diff)
	}

	res = fsm.Command(h, Command{Kind: CmdQuit})
	if res.Action != Close || fsm.StateName() != "Invalid" {
		t.Fatalf("QUIT: res=%+v state=%s", res, fsm.StateName())
	}
}

func TestBadSequenceCommands(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", nil, false, true)

	res := fsm.Command(h, Command{Kind: CmdRcpt, ForwardPath: "b@example.org"})
	if !res.IsError || res.Code != 503 {
		t.Fatalf("RCPT before MAIL: got %+v, want 503", res)
	}
	if fsm.StateName() != "Idle" {
		t.Fatalf("state should not advance on error, got %s", fsm.StateName())
	}
}

func TestHeloRejectedWhenAuthRequired(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", []AuthMechanism{MechPlain}, false, true)

	res := fsm.Command(h, Command{Kind: CmdHelo, Domain: "client.example"})
	if !res.IsError || res.Code != 501 {
		t.Fatalf("HELO with auth configured: got %+v, want BAD_HELLO", res)
	}
	if fsm.StateName() != "Idle" {
		t.Fatalf("state changed on rejected HELO: %s", fsm.StateName())
	}

	res = fsm.Command(h, Command{Kind: CmdEhlo, Domain: "client.example"})
	if res.IsError || fsm.StateName() != "HelloAuth" {
		t.Fatalf("EHLO with auth configured: res=%+v state=%s", res, fsm.StateName())
	}
}

func TestRsetPreservesDomainAndAuthAwareness(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", []AuthMechanism{MechPlain}, false, true)

	fsm.Command(h, Command{Kind: CmdEhlo, Domain: "client.example"})
	fsm.Command(h, Command{Kind: CmdAuthPlainEmpty})
	// Authenticate so we land in Hello (not HelloAuth), then RSET should
	// bring us back to HelloAuth since auth is still configured.
	raw := EncodeChallenge("\x00user\x00pass")
	fsm.Command(h, Command{Kind: CmdAuthResponse, Line: raw})
	if fsm.StateName() != "Hello" {
		t.Fatalf("post-auth state = %s, want Hello", fsm.StateName())
	}

	res := fsm.Command(h, Command{Kind: CmdRset})
	if res.IsError || fsm.StateName() != "HelloAuth" {
		t.Fatalf("RSET after auth: res=%+v state=%s", res, fsm.StateName())
	}
}

func TestAuthFailureReturnsToRequiresAuthNotUnavailable(t *testing.T) {
	h := newFakeHandler()
	h.authPlainResp = AUTH_INVALID_CREDENTIALS
	fsm := NewStateMachine("203.0.113.1", []AuthMechanism{MechPlain}, false, true)

	fsm.Command(h, Command{Kind: CmdEhlo, Domain: "client.example"})
	fsm.Command(h, Command{Kind: CmdAuthPlainEmpty})
	raw := EncodeChallenge("\x00user\x00wrong")
	res := fsm.Command(h, Command{Kind: CmdAuthResponse, Line: raw})

	if !res.IsError {
		t.Fatalf("expected auth failure, got %+v", res)
	}
	if fsm.Auth() != AuthRequiresAuth {
		t.Fatalf("auth state after failure = %v, want AuthRequiresAuth", fsm.Auth())
	}
	if fsm.StateName() != "HelloAuth" {
		t.Fatalf("state after failed auth = %s, want HelloAuth", fsm.StateName())
	}
}

func TestAuthLoginTwoTurnExchange(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", []AuthMechanism{MechLogin}, false, true)

	fsm.Command(h, Command{Kind: CmdEhlo, Domain: "client.example"})
	res := fsm.Command(h, Command{Kind: CmdAuthLoginEmpty})
	if res.Code != 334 || fsm.StateName() != "Auth" {
		t.Fatalf("AUTH LOGIN (empty): res=%+v state=%s", res, fsm.StateName())
	}

	res = fsm.Command(h, Command{Kind: CmdAuthResponse, Line: EncodeChallenge("alice")})
	if res.Code != 334 || fsm.StateName() != "Auth" {
		t.Fatalf("username turn: res=%+v state=%s", res, fsm.StateName())
	}

	res = fsm.Command(h, Command{Kind: CmdAuthResponse, Line: EncodeChallenge("s3cr3t")})
	if res.IsError || fsm.StateName() != "Hello" {
		t.Fatalf("password turn: res=%+v state=%s", res, fsm.StateName())
	}
	if len(h.authLoginCalls) != 1 || h.authLoginCalls[0] != "alice:s3cr3t" {
		t.Fatalf("AuthLogin called with %v", h.authLoginCalls)
	}
}

func TestStartTLSOnlyFromHello(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", nil, true, false)

	res := fsm.Command(h, Command{Kind: CmdStartTLS})
	if !res.IsError {
		t.Fatalf("STARTTLS from Idle should be rejected, got %+v", res)
	}

	fsm.Command(h, Command{Kind: CmdHelo, Domain: "client.example"})
	res = fsm.Command(h, Command{Kind: CmdStartTLS})
	if res.IsError || res.Action != UpgradeTLS || fsm.StateName() != "Idle" {
		t.Fatalf("STARTTLS: res=%+v state=%s", res, fsm.StateName())
	}

	res = fsm.NotifyTLSEstablished(h)
	if !res.IsEmpty() || fsm.TLS() != TLSActive {
		t.Fatalf("post-handshake: res=%+v tls=%v", res, fsm.TLS())
	}
}

func TestPlaintextAuthRejectedBeforeTLS(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", []AuthMechanism{MechPlain}, true, false)

	fsm.Command(h, Command{Kind: CmdEhlo, Domain: "client.example"})
	res := fsm.Command(h, Command{Kind: CmdAuthPlainEmpty})
	if !res.IsError {
		t.Fatalf("AUTH PLAIN before TLS with plaintext auth disallowed: got %+v", res)
	}
}

func TestDataHandlerErrorDrainsBodySilentlyThenFails(t *testing.T) {
	h := newFakeHandler()
	h.dataResp = TRANSACTION_FAILED
	fsm := NewStateMachine("203.0.113.1", nil, false, true)

	fsm.Command(h, Command{Kind: CmdHelo, Domain: "client.example"})
	fsm.Command(h, Command{Kind: CmdMail, ReversePath: "a@example.com"})
	fsm.Command(h, Command{Kind: CmdRcpt, ForwardPath: "b@example.org"})
	fsm.Command(h, Command{Kind: CmdData})

	if got := fsm.ProcessLine(h, "line one\r\n"); !got.IsEmpty() {
		t.Fatalf("first failing body line should not reply, got %+v", got)
	}
	if got := fsm.ProcessLine(h, "line two\r\n"); !got.IsEmpty() {
		t.Fatalf("subsequent body line should not reply either, got %+v", got)
	}

	res := fsm.ProcessLine(h, ".\r\n")
	if res.Code != 554 || fsm.StateName() != "Hello" {
		t.Fatalf("DATA end after handler error: res=%+v state=%s", res, fsm.StateName())
	}
	if h.dataEndCalls != 0 {
		t.Fatalf("DataEnd should not be called after a failed transaction, got %d calls", h.dataEndCalls)
	}
	if len(h.dataLines) != 1 {
		t.Fatalf("handler should stop seeing body lines once a Data call fails, got %d", len(h.dataLines))
	}
}

func TestMalformedCommandLineDoesNotAdvanceState(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", nil, false, true)

	res := fsm.ProcessLine(h, "BOGUS\r\n")
	if !res.IsError {
		t.Fatalf("expected a syntax error response, got %+v", res)
	}
	if fsm.StateName() != "Idle" {
		t.Fatalf("malformed line should not change state, got %s", fsm.StateName())
	}
}

func TestVrfyOnlyAllowedFromHello(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", nil, false, true)

	res := fsm.Command(h, Command{Kind: CmdVrfy})
	if !res.IsError {
		t.Fatalf("VRFY from Idle should be rejected, got %+v", res)
	}

	fsm.Command(h, Command{Kind: CmdHelo, Domain: "client.example"})
	res = fsm.Command(h, Command{Kind: CmdVrfy})
	if res.IsError || res.Code != 252 {
		t.Fatalf("VRFY from Hello: got %+v", res)
	}
}

func TestEhloOmitsAuthBeforeTLS(t *testing.T) {
	h := newFakeHandler()
	fsm := NewStateMachine("203.0.113.1", []AuthMechanism{MechPlain, MechLogin}, true, false)

	res := fsm.Command(h, Command{Kind: CmdEhlo, Domain: "client.example"})
	if res.IsError {
		t.Fatalf("EHLO failed: %+v", res)
	}
	if fsm.StateName() != "HelloAuth" {
		t.Fatalf("state = %s, want HelloAuth", fsm.StateName())
	}
	// allowAuth() is false (no TLS yet, plaintext auth disallowed), so the
	// AUTH extension line must not be advertised even though mechanisms
	// are configured.
	for _, l := range res.Lines {
		if len(l) >= 4 && l[:4] == "AUTH" {
			t.Fatalf("AUTH advertised before TLS: %v", res.Lines)
		}
	}
}
