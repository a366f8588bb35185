// Package tracing provides the optional advisory logging channel the
// engine accepts from its host. It is deliberately narrow: the core only
// depends on the Tracer interface, never on this package's concrete type,
// so embedding the engine never forces a dependency on golang.org/x/net/trace
// or blitiri.com.ar/go/log on callers who don't want it.
package tracing

import (
	"fmt"
	"net/http"
	"strconv"

	"blitiri.com.ar/go/log"
	nettrace "golang.org/x/net/trace"
)

func init() {
	// golang.org/x/net/trace restricts its debug page to localhost by
	// default; that's surprising for an embedded library running behind a
	// reverse proxy, so widen it rather than leave the debug page dark.
	nettrace.AuthRequest = func(req *http.Request) (any, sensitive bool) {
		return true, true
	}
}

// Tracer is the advisory logging/tracing channel a Handler or transport may
// pass into a session. A nil Tracer is valid and silent: every exported
// helper in this package nil-checks its receiver.
type Tracer interface {
	Printf(format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Errorf(format string, a ...interface{}) error
}

// Trace is the concrete Tracer, one per SMTP session, wrapping
// golang.org/x/net/trace for the live debug view and blitiri.com.ar/go/log
// for durable output.
type Trace struct {
	family string
	title  string
	t      nettrace.Trace
}

// New starts a trace for a session. family/title show up in the
// golang.org/x/net/trace debug page (e.g. family "smtpfsm.session", title
// the peer address).
func New(family, title string) *Trace {
	tr := &Trace{family: family, title: title, t: nettrace.New(family, title)}
	// A full SMTP exchange (HELO/MAIL/RCPT*/DATA/QUIT plus AUTH) easily
	// exceeds the library's default cap of 10 events.
	tr.t.SetMaxEvents(30)
	return tr
}

// Printf adds an informational line to the trace.
func (t *Trace) Printf(format string, a ...interface{}) {
	if t == nil {
		return
	}
	t.t.LazyPrintf(format, a...)
	log.Log(log.Info, 1, "%s %s: %s", t.family, t.title, quote(fmt.Sprintf(format, a...)))
}

// Debugf adds a debug-level line to the trace.
func (t *Trace) Debugf(format string, a ...interface{}) {
	if t == nil {
		return
	}
	t.t.LazyPrintf(format, a...)
	log.Log(log.Debug, 1, "%s %s: %s", t.family, t.title, quote(fmt.Sprintf(format, a...)))
}

// Errorf marks the trace as erroring and returns the formatted error, so
// call sites can do `return tr.Errorf(...)`.
func (t *Trace) Errorf(format string, a ...interface{}) error {
	err := fmt.Errorf(format, a...)
	if t == nil {
		return err
	}
	t.t.SetError()
	t.t.LazyPrintf("error: %v", err)
	log.Log(log.Info, 1, "%s %s: error: %s", t.family, t.title, quote(err.Error()))
	return err
}

// Finish closes out the trace. Call once per session, typically on
// disconnect.
func (t *Trace) Finish() {
	if t == nil {
		return
	}
	t.t.Finish()
}

func quote(s string) string {
	qs := strconv.Quote(s)
	return qs[1 : len(qs)-1]
}
