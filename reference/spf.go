package reference

import (
	"net"

	"blitiri.com.ar/go/spf"
)

// Tracer is the minimal advisory logging interface SPF checking reports
// through. smtpfsm.Tracer satisfies it structurally; it is redeclared here
// so this package does not need to import the core just for a log sink.
type Tracer interface {
	Debugf(format string, a ...interface{})
}

// CheckSPF runs an opportunistic SPF check for a MAIL FROM address coming
// from peerIP. It never fails the transaction on a lookup error: SPF is a
// signal the Handler may use to raise its own security bar, not a hard
// gate, so infrastructure trouble (timeouts, broken records) never rejects
// a sender by itself. A result of spf.Fail is the only outcome a caller
// should normally treat as "reject this sender".
func CheckSPF(peerIP net.IP, senderDomain, sender string, tr Tracer) (spf.Result, error) {
	if peerIP == nil {
		// Not a real TCP peer (e.g. a unix-socket or in-process test
		// connection); there is nothing to check.
		return "", nil
	}

	opts := []spf.Option{}
	if tr != nil {
		opts = append(opts, spf.WithTraceFunc(func(f string, a ...interface{}) {
			tr.Debugf(f, a...)
		}))
	}

	res, err := spf.CheckHostWithSender(peerIP, senderDomain, sender, opts...)
	if tr != nil {
		tr.Debugf("SPF %v (%v)", res, err)
	}
	return res, err
}
