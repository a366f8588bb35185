// Command smtpfsm-spfcheck exercises the same SPF check the reference
// Handler applies to MAIL FROM, for development and debugging.
//
// Not for use in production.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	smtpfsm "overcaffeinated.net/go/smtpfsm"
	"overcaffeinated.net/go/smtpfsm/reference"
)

func main() {
	flag.Parse()

	if flag.NArg() < 2 {
		fmt.Println("usage: smtpfsm-spfcheck <peer-ip> <sender-address>")
		os.Exit(1)
	}

	peerIP := net.ParseIP(flag.Arg(0))
	sender := flag.Arg(1)
	domain := smtpfsm.DomainOfAddr(sender)

	r, err := reference.CheckSPF(peerIP, domain, sender, nil)
	fmt.Println(r)
	if err != nil {
		fmt.Println(err)
	}
}
