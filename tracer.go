package smtpfsm

// Tracer is the advisory logging channel the engine reports malformed SASL
// input through, per the "logging is advisory, supplied by the host"
// design. The core only depends on this interface, never on a
// concrete implementation: package tracing provides one, but any type with
// this method set works (and a nil Tracer is always valid — callers should
// nil-check before invoking it, as the state machine itself does).
type Tracer interface {
	Printf(format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Errorf(format string, a ...interface{}) error
}
