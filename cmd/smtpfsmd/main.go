// Command smtpfsmd is a reference SMTP listener built on top of the
// smtpfsm engine. It is deliberately small: a real deployment is expected
// to write its own transport (this one shows the shape of one), and to
// supply its own smtpfsm.Handler (this one uses the reference package).
package main

import (
	"bufio"
	"crypto/tls"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"blitiri.com.ar/go/log"
	"blitiri.com.ar/go/systemd"
	"github.com/docopt/docopt-go"

	smtpfsm "overcaffeinated.net/go/smtpfsm"
	"overcaffeinated.net/go/smtpfsm/internal/haproxy"
	"overcaffeinated.net/go/smtpfsm/internal/set"
	"overcaffeinated.net/go/smtpfsm/reference"
	"overcaffeinated.net/go/smtpfsm/tracing"
)

const usage = `smtpfsmd: reference SMTP listener for the smtpfsm engine.

Usage:
  smtpfsmd [--addr=<addr>] [--hostname=<name>] [--userdb=<path>]
            [--domain=<domain>]... [--cert=<path> --key=<path>]
            [--insecure-allow-plaintext-auth] [--haproxy]
  smtpfsmd -h | --help

Options:
  --addr=<addr>                     Address to listen on [default: :2525].
  --hostname=<name>                 Name advertised in the greeting banner [default: localhost].
  --userdb=<path>                   Path to the user store file [default: ./smtpfsmd-users.json].
  --domain=<domain>                 A locally-accepted RCPT TO domain (repeatable).
  --cert=<path>                     TLS certificate, enables STARTTLS.
  --key=<path>                      TLS private key, paired with --cert.
  --insecure-allow-plaintext-auth   Allow AUTH before STARTTLS (testing only).
  --haproxy                         Expect a HAProxy PROXY protocol v1 preamble
                                     on every connection, and use it for the
                                     peer address instead of the TCP source.
`

func main() {
	log.Init()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], "smtpfsmd")
	if err != nil {
		log.Fatalf("argument error: %v", err)
	}

	addr, _ := opts.String("--addr")
	hostname, _ := opts.String("--hostname")
	userdbPath, _ := opts.String("--userdb")
	domains, _ := opts["--domain"].([]string)
	insecureAuth, _ := opts.Bool("--insecure-allow-plaintext-auth")
	expectHAProxy, _ := opts.Bool("--haproxy")

	localDomains := set.NewString(strings.ToLower(hostname))
	for _, d := range domains {
		localDomains.Add(strings.ToLower(d))
	}

	users, err := reference.LoadUserStore(userdbPath)
	if err != nil {
		log.Fatalf("loading user store %q: %v", userdbPath, err)
	}
	mailbox := reference.NewInMemoryMailbox(1000)

	var tlsConfig *tls.Config
	certPath, _ := opts.String("--cert")
	keyPath, _ := opts.String("--key")
	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			log.Fatalf("loading certificate: %v", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	srv := &server{
		hostname:     hostname,
		localDomains: localDomains,
		users:        users,
		mailbox:      mailbox,
		tlsConfig:    tlsConfig,
		allowAuth:    insecureAuth,
		haproxy:      expectHAProxy,
		mechanisms:   []smtpfsm.AuthMechanism{smtpfsm.MechPlain, smtpfsm.MechLogin},
	}

	systemdLs, err := systemd.Listeners()
	if err != nil {
		log.Fatalf("getting systemd listeners: %v", err)
	}

	var l net.Listener
	if ls := systemdLs["smtp"]; len(ls) > 0 {
		l = ls[0]
		log.Infof("listening on %s (via systemd)", l.Addr())
	} else {
		l, err = net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("listening on %s: %v", addr, err)
		}
		log.Infof("listening on %s", l.Addr())
	}

	go handleSignals(l)

	srv.serve(l)
}

func handleSignals(l net.Listener) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	s := <-sig
	log.Infof("received %v, shutting down", s)
	l.Close()
	os.Exit(0)
}

// server accepts connections and drives one smtpfsm.StateMachine per
// connection. It is the thin transport layer the engine itself deliberately
// excludes.
type server struct {
	hostname     string
	localDomains *set.String
	users        *reference.UserStore
	mailbox      reference.Mailbox
	tlsConfig    *tls.Config
	allowAuth    bool
	haproxy      bool
	mechanisms   []smtpfsm.AuthMechanism
}

func (s *server) serve(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			log.Errorf("accept: %v", err)
			return
		}
		go s.handle(conn)
	}
}

func (s *server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	tcpAddr := conn.RemoteAddr()
	tr := tracing.New("smtpfsm.session", tcpAddr.String())
	defer tr.Finish()

	peerHost, _, _ := net.SplitHostPort(tcpAddr.String())
	if s.haproxy {
		ip, err := haproxy.ResolvePeerIP(reader, tcpAddr, tr)
		if err != nil {
			tr.Errorf("haproxy handshake: %v", err)
			return
		}
		peerHost = ip
	}

	handler := &reference.Handler{
		PeerIP:       net.ParseIP(peerHost),
		LocalDomains: s.localDomains,
		Users:        s.users,
		Mailbox:      s.mailbox,
		Tracer:       tr,
	}

	fsm := smtpfsm.NewStateMachine(peerHost, s.mechanisms, s.tlsConfig != nil, s.allowAuth)
	fsm.Tracer = tr

	writer := bufio.NewWriter(conn)

	greet := smtpfsm.Response{Code: 220, Lines: []string{s.hostname + " ESMTP smtpfsm"}}
	writer.Write(greet.Bytes())
	writer.Flush()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			tr.Debugf("read error: %v", err)
			return
		}

		res := fsm.ProcessLine(handler, line)
		if !res.IsEmpty() {
			writer.Write(res.Bytes())
			if err := writer.Flush(); err != nil {
				return
			}
		}

		switch res.Action {
		case smtpfsm.Close:
			return
		case smtpfsm.UpgradeTLS:
			tlsConn := tls.Server(conn, s.tlsConfig)
			if err := tlsConn.Handshake(); err != nil {
				tr.Errorf("TLS handshake failed: %v", err)
				return
			}
			state := tlsConn.ConnectionState()
			tr.Debugf("TLS established: %s %s", tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
			conn = tlsConn
			reader = bufio.NewReader(conn)
			writer = bufio.NewWriter(conn)
			fsm.NotifyTLSEstablished(handler)
		}
	}
}
