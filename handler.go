package smtpfsm

// Handler is the engine's sole external collaborator: the state machine
// calls into it at each protocol milestone and folds the returned Response
// into its own transition decision (advance on a non-error Response, stay
// put otherwise). Implementations are synchronous; the engine makes no
// concurrent calls into a single Handler across one session.
type Handler interface {
	// Helo is called for both HELO and EHLO with the argument as parsed;
	// the engine only checks that it is non-empty, so validating the domain
	// is up to the Handler. On HELO the returned Response is sent to the
	// client as is. On EHLO a 250 Response is replaced by the engine's own
	// multi-line extension reply, and any other Response is sent as is. An
	// error Response leaves the session state unchanged.
	Helo(peerIP, domain string) Response

	// Mail is called once MAIL FROM's reverse-path has been parsed.
	Mail(peerIP, domain, reversePath string, is8Bit bool) Response

	// Rcpt is called once per RCPT TO command, forwardPath already parsed.
	Rcpt(forwardPath string) Response

	// DataStart is called when the client sends DATA and the transaction
	// has at least one accepted recipient. domain, reversePath and is8Bit
	// carry the transaction so far; forwardPaths lists every recipient
	// accepted up to this point, letting the handler make a decision that
	// depends on the full recipient set before committing to 354.
	DataStart(domain, reversePath string, is8Bit bool, forwardPaths []string) Response

	// Data is called once per body line (already dot-unstuffed) during the
	// DATA phase. A non-error Response is not sent to the client per line;
	// only the final outcome from DataEnd (or the forced TRANSACTION_FAILED
	// on a Data error) reaches the wire.
	Data(line []byte) Response

	// DataEnd is called when the terminating "." line arrives, provided no
	// prior Data call in this transaction returned an error.
	DataEnd() Response

	// AuthPlain is called with a decoded SASL PLAIN triple.
	AuthPlain(creds PlainCredentials) Response

	// AuthLogin is called once both the username and password turns of a
	// SASL LOGIN exchange have been collected.
	AuthLogin(username, password string) Response
}
