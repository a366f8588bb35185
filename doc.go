// Package smtpfsm implements an embeddable SMTP session engine: a
// per-connection protocol state machine that turns lines of client input
// into calls on a pluggable Handler and SMTP response codes.
//
// It covers RFC 5321 core SMTP, ESMTP's EHLO, RFC 6152 8BITMIME, RFC 3207
// STARTTLS, and RFC 4954 SASL AUTH (PLAIN and LOGIN). It owns none of the
// transport: callers read lines off whatever connection they have (TCP,
// TLS, a test harness) and feed them to ProcessLine; the engine never
// touches a net.Conn directly. Mail persistence, relaying, and DNS/SPF
// policy are likewise left to the Handler — see the reference package for
// one worked implementation, and cmd/smtpfsmd for a transport that drives
// it over a real socket.
package smtpfsm
