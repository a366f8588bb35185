package smtpfsm

// fakeHandler is a minimal, scriptable Handler for state machine tests.
// Each method returns whatever the test configured, and records that it
// was called so tests can assert on call sequencing.
type fakeHandler struct {
	heloResp      Response
	mailResp      Response
	rcptResp      Response
	dataStartResp Response
	dataResp      Response
	dataEndResp   Response
	authPlainResp Response
	authLoginResp Response

	heloCalls      []string
	mailCalls      []string
	rcptCalls      []string
	dataLines      [][]byte
	dataStartCalls int
	dataEndCalls   int
	authPlainCalls []PlainCredentials
	authLoginCalls []string
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		heloResp:      OK,
		mailResp:      OK,
		rcptResp:      OK,
		dataStartResp: OK,
		dataResp:      EMPTY_RESPONSE,
		dataEndResp:   OK,
		authPlainResp: AUTH_SUCCEEDED,
		authLoginResp: AUTH_SUCCEEDED,
	}
}

func (f *fakeHandler) Helo(peerIP, domain string) Response {
	f.heloCalls = append(f.heloCalls, domain)
	return f.heloResp
}

func (f *fakeHandler) Mail(peerIP, domain, reversePath string, is8Bit bool) Response {
	f.mailCalls = append(f.mailCalls, reversePath)
	return f.mailResp
}

func (f *fakeHandler) Rcpt(forwardPath string) Response {
	f.rcptCalls = append(f.rcptCalls, forwardPath)
	return f.rcptResp
}

func (f *fakeHandler) DataStart(domain, reversePath string, is8Bit bool, forwardPaths []string) Response {
	f.dataStartCalls++
	return f.dataStartResp
}

func (f *fakeHandler) Data(line []byte) Response {
	cp := make([]byte, len(line))
	copy(cp, line)
	f.dataLines = append(f.dataLines, cp)
	return f.dataResp
}

func (f *fakeHandler) DataEnd() Response {
	f.dataEndCalls++
	return f.dataEndResp
}

func (f *fakeHandler) AuthPlain(creds PlainCredentials) Response {
	f.authPlainCalls = append(f.authPlainCalls, creds)
	return f.authPlainResp
}

func (f *fakeHandler) AuthLogin(username, password string) Response {
	f.authLoginCalls = append(f.authLoginCalls, username+":"+password)
	return f.authLoginResp
}
