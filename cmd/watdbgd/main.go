// Command watdbgd is the JSON-RPC 2.0 front end for watdbg (§6): it owns no
// debugging logic of its own, only the HTTP listener, command-line parsing
// and signal handling around a session.Conductor.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/jetsetilly/watdbg/logger"
	"github.com/jetsetilly/watdbg/rpcserver"
	"github.com/jetsetilly/watdbg/serveroptions"
	"github.com/jetsetilly/watdbg/session"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("watdbgd", flag.ContinueOnError)
	opts, err := serveroptions.Parse(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if opts.Echo {
		logger.SetEcho(os.Stdout, true)
	}

	conductor := session.NewConductor()
	srv := rpcserver.New(conductor, opts)

	intChan := make(chan os.Signal, 1)
	signal.Notify(intChan, os.Interrupt)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-intChan:
		logger.Logf(logger.Allow, "watdbgd", "interrupt received, shutting down")
		srv.Close()
		return 0
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}
}
