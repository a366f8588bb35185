package reference

import (
	"path/filepath"
	"testing"

	smtpfsm "overcaffeinated.net/go/smtpfsm"
	"overcaffeinated.net/go/smtpfsm/internal/set"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	users := NewUserStore(filepath.Join(t.TempDir(), "users.json"))
	if err := users.AddUser("alice", "s3cr3t"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	return &Handler{
		LocalDomains: set.NewString("example.com"),
		Users:        users,
		Mailbox:      NewInMemoryMailbox(10),
	}
}

func TestHandlerRejectsInvalidHeloDomain(t *testing.T) {
	h := newTestHandler(t)
	if res := h.Helo("203.0.113.1", "not a domain"); !res.IsError {
		t.Errorf("expected BAD_HELLO for invalid domain, got %+v", res)
	}
}

func TestHandlerRejectsNonLocalRecipient(t *testing.T) {
	h := newTestHandler(t)
	if res := h.Rcpt("someone@elsewhere.example"); !res.IsError {
		t.Errorf("expected relay-denied, got %+v", res)
	}
	if res := h.Rcpt("someone@example.com"); res.IsError {
		t.Errorf("expected local recipient to be accepted, got %+v", res)
	}
}

func TestHandlerAuthenticatesAgainstUserStore(t *testing.T) {
	h := newTestHandler(t)
	res := h.AuthPlain(smtpfsm.PlainCredentials{Username: "alice", Password: "s3cr3t"})
	if res.IsError {
		t.Errorf("expected successful auth, got %+v", res)
	}
	res = h.AuthPlain(smtpfsm.PlainCredentials{Username: "alice", Password: "wrong"})
	if !res.IsError {
		t.Errorf("expected failed auth, got %+v", res)
	}
}

func TestHandlerDeliversCompleteMessage(t *testing.T) {
	h := newTestHandler(t)
	mbox := h.Mailbox.(*InMemoryMailbox)

	h.Mail("203.0.113.1", "mail.example.net", "sender@example.com", false)
	h.Rcpt("someone@example.com")
	h.DataStart("mail.example.net", "sender@example.com", false, []string{"someone@example.com"})
	h.Data([]byte("Subject: hi"))
	h.Data([]byte(""))
	h.Data([]byte("body"))
	if res := h.DataEnd(); res.IsError {
		t.Fatalf("DataEnd failed: %+v", res)
	}

	msgs := mbox.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].From != "sender@example.com" || len(msgs[0].To) != 1 {
		t.Errorf("message envelope mismatch: %+v", msgs[0])
	}
}
