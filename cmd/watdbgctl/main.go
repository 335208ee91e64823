// Command watdbgctl is a local, interactive operator console for watdbg: it
// drives a session.Conductor directly, without going through the JSON-RPC
// surface, by way of the replconsole package.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jetsetilly/watdbg/logger"
	"github.com/jetsetilly/watdbg/replconsole"
	"github.com/jetsetilly/watdbg/session"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("watdbgctl", flag.ContinueOnError)
	echo := fs.Bool("log", false, "echo log entries to stdout as they are recorded")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *echo {
		logger.SetEcho(os.Stdout, true)
	}

	conductor := session.NewConductor()
	console, err := replconsole.New(conductor, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := console.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	return 0
}
