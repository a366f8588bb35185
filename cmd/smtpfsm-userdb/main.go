// Command smtpfsm-userdb manages a reference.UserStore file: add a user,
// prompting for (and confirming) a password if one isn't given on the
// command line.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/crypto/ssh/terminal"

	"overcaffeinated.net/go/smtpfsm/reference"
)

var (
	dbFname  = flag.String("database", "", "user store file")
	adduser  = flag.String("add_user", "", "username to add")
	password = flag.String("password", "", "password for the user to add (will prompt if missing)")
	disableChecks = flag.Bool("dangerously_disable_checks", false,
		"disable the minimum password length check - testing only")
)

func main() {
	flag.Parse()

	if *dbFname == "" {
		fmt.Println("database name missing, forgot --database?")
		os.Exit(1)
	}

	store, err := reference.LoadUserStore(*dbFname)
	if err != nil {
		fmt.Printf("error loading user store: %v\n", err)
		os.Exit(1)
	}

	if *adduser == "" {
		fmt.Println("user store loaded")
		return
	}

	if *password == "" {
		fmt.Print("Password: ")
		p1, err := terminal.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			fmt.Printf("error reading password: %v\n", err)
			os.Exit(1)
		}

		fmt.Print("Confirm password: ")
		p2, err := terminal.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			fmt.Printf("error reading password: %v\n", err)
			os.Exit(1)
		}

		if !bytes.Equal(p1, p2) {
			fmt.Println("passwords don't match")
			os.Exit(1)
		}
		*password = string(p1)
	}

	if !*disableChecks && len(*password) < 8 {
		fmt.Println("password is too short")
		os.Exit(1)
	}

	normalized, err := reference.NormalizeUsername(*adduser)
	if err != nil {
		fmt.Printf("invalid username: %v\n", err)
		os.Exit(1)
	}

	if err := store.AddUser(normalized, *password); err != nil {
		fmt.Printf("error adding user: %v\n", err)
		os.Exit(1)
	}

	if err := store.Write(); err != nil {
		fmt.Printf("error writing user store: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("added user")
}
