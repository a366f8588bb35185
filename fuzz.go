// Fuzz testing for the engine's line parser and session loop.

// +build gofuzz

package smtpfsm

import (
	"bufio"
	"bytes"
)

// Fuzz drives a single session with data split into lines, the same way a
// real connection would feed ProcessLine one line at a time. It never
// touches a socket: there is no transport layer in this package to
// exercise, so the fuzz surface is the parser and state machine directly.
func Fuzz(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	fsm := NewStateMachine("203.0.113.9", []AuthMechanism{MechPlain, MechLogin}, true, true)
	h := newFakeHandler()

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	interesting := false
	for scanner.Scan() {
		line := scanner.Text() + "\r\n"
		res := fsm.ProcessLine(h, line)
		if res.Action == Close {
			break
		}
		interesting = true
	}

	if interesting {
		return 1
	}
	return 0
}
