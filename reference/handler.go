package reference

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync"

	smtpfsm "overcaffeinated.net/go/smtpfsm"
	"overcaffeinated.net/go/smtpfsm/internal/set"
)

// Mailbox is the delivered-message sink a Handler hands accepted mail to.
// The reference implementation's own InMemoryMailbox is one; a real
// deployment would swap in something that writes to Maildir, relays
// upstream, or enqueues for later delivery (mail persistence itself is out
// of scope for this repository, same as it is for the core).
type Mailbox interface {
	Deliver(msg Message) error
}

// Message is one accepted, fully-received piece of mail.
type Message struct {
	From string
	To   []string
	Data []byte
}

// InMemoryMailbox is a bounded ring buffer of delivered messages, useful
// for tests and demos: nothing is ever written to disk.
type InMemoryMailbox struct {
	mu       sync.Mutex
	messages []Message
	max      int
}

// NewInMemoryMailbox returns a mailbox that keeps at most max messages,
// discarding the oldest once full.
func NewInMemoryMailbox(max int) *InMemoryMailbox {
	return &InMemoryMailbox{max: max}
}

func (m *InMemoryMailbox) Deliver(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	if len(m.messages) > m.max {
		m.messages = m.messages[len(m.messages)-m.max:]
	}
	return nil
}

// Messages returns a snapshot of the currently held messages.
func (m *InMemoryMailbox) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Handler is the reference smtpfsm.Handler implementation: it validates
// HELO/EHLO domains and MAIL FROM's SPF posture, checks RCPT TO against a
// local-domain allowlist, authenticates against a UserStore, and delivers
// accepted messages to a Mailbox.
type Handler struct {
	PeerIP       net.IP
	LocalDomains *set.String
	Users        *UserStore
	Mailbox      Mailbox
	Tracer       Tracer

	mu         sync.Mutex
	mailFrom   string
	recipients []string
	body       bytes.Buffer
}

var _ smtpfsm.Handler = (*Handler)(nil)

func (h *Handler) Helo(peerIP, domain string) smtpfsm.Response {
	if !smtpfsm.ValidDomain(domain) {
		return smtpfsm.BAD_HELLO
	}
	return smtpfsm.OK
}

func (h *Handler) Mail(peerIP, domain, reversePath string, is8Bit bool) smtpfsm.Response {
	h.mu.Lock()
	h.mailFrom = reversePath
	h.recipients = nil
	h.body.Reset()
	h.mu.Unlock()

	if reversePath == "" {
		// The null reverse-path (bounce/notification mail) skips SPF.
		return smtpfsm.OK
	}

	senderDomain := smtpfsm.DomainOfAddr(reversePath)
	res, err := CheckSPF(h.PeerIP, senderDomain, reversePath, h.Tracer)
	if err != nil && h.Tracer != nil {
		h.Tracer.Debugf("SPF lookup error for %s: %v", reversePath, err)
	}
	if res == "fail" {
		return smtpfsm.Response{Code: 550, Lines: []string{"5.7.23 SPF check failed"}, IsError: true, Action: smtpfsm.Continue}
	}
	return smtpfsm.OK
}

func (h *Handler) Rcpt(forwardPath string) smtpfsm.Response {
	domain := strings.ToLower(smtpfsm.DomainOfAddr(forwardPath))
	if h.LocalDomains != nil && !h.LocalDomains.Has(domain) {
		return smtpfsm.Response{Code: 550, Lines: []string{"5.7.1 Relay access denied"}, IsError: true, Action: smtpfsm.Continue}
	}
	h.mu.Lock()
	h.recipients = append(h.recipients, forwardPath)
	h.mu.Unlock()
	return smtpfsm.OK
}

// DataStart sees the whole transaction the FSM has accumulated so far. The
// reference handler only uses it to reject an unreasonably large recipient
// fan-out; a host wanting per-recipient delivery policy would decide here,
// before committing to 354, using forwardPaths rather than re-deriving it.
func (h *Handler) DataStart(domain, reversePath string, is8Bit bool, forwardPaths []string) smtpfsm.Response {
	const maxRecipients = 100
	if len(forwardPaths) > maxRecipients {
		return smtpfsm.Response{Code: 452, Lines: []string{"4.5.3 Too many recipients"}, IsError: true, Action: smtpfsm.Continue}
	}
	return smtpfsm.OK
}

func (h *Handler) Data(line []byte) smtpfsm.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.body.Write(line)
	h.body.WriteByte('\n')
	return smtpfsm.EMPTY_RESPONSE
}

func (h *Handler) DataEnd() smtpfsm.Response {
	h.mu.Lock()
	msg := Message{From: h.mailFrom, To: append([]string(nil), h.recipients...), Data: append([]byte(nil), h.body.Bytes()...)}
	h.mu.Unlock()

	if h.Mailbox != nil {
		if err := h.Mailbox.Deliver(msg); err != nil {
			return smtpfsm.Response{
				Code:    451,
				Lines:   []string{fmt.Sprintf("4.3.0 delivery failed: %v", err)},
				IsError: true,
				Action:  smtpfsm.Continue,
			}
		}
	}
	return smtpfsm.OK
}

func (h *Handler) AuthPlain(creds smtpfsm.PlainCredentials) smtpfsm.Response {
	return h.authenticate(creds.Username, creds.Password)
}

func (h *Handler) AuthLogin(username, password string) smtpfsm.Response {
	return h.authenticate(username, password)
}

func (h *Handler) authenticate(username, password string) smtpfsm.Response {
	norm, err := NormalizeUsername(username)
	if err != nil {
		return smtpfsm.AUTH_INVALID_CREDENTIALS
	}
	if h.Users == nil || !h.Users.Authenticate(norm, password) {
		return smtpfsm.AUTH_INVALID_CREDENTIALS
	}
	return smtpfsm.AUTH_SUCCEEDED
}
