// Package serveroptions collects the command-line configuration for
// watdbgd, the JSON-RPC debug server, in the manner of the teacher's own
// CommandLineOptions: a flag.FlagSet parsed once in main and handed down as
// a plain struct, rather than a package-global.
package serveroptions

import (
	"flag"
	"fmt"
)

// Options is every setting watdbgd's main needs. There is no persisted
// configuration (SPEC_FULL.md §2.3): every field is process-lifetime only,
// sourced from the command line or its defaults.
type Options struct {
	// ListenAddr is the address the JSON-RPC HTTP server binds to.
	ListenAddr string

	// StatsAddr is the address the statsview dashboard binds to. Empty
	// disables it.
	StatsAddr string

	// Echo mirrors every logger entry to stdout as it is recorded, the
	// -log flag of the teacher's own main.
	Echo bool

	// SourceDirs is the default search list applied to a create_session
	// call that omits its own source_dirs.
	SourceDirs []string

	// CORSOrigins lists the origins the rs/cors middleware allows; "*"
	// allows any origin.
	CORSOrigins []string
}

// sourceDirsList lets -source-dir be repeated on the command line, one
// directory per flag, in the manner of flag.Value implementations elsewhere
// in the teacher's own CLI parsing.
type sourceDirsList []string

func (l *sourceDirsList) String() string {
	return fmt.Sprintf("%v", []string(*l))
}

func (l *sourceDirsList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type corsOriginsList []string

func (l *corsOriginsList) String() string {
	return fmt.Sprintf("%v", []string(*l))
}

func (l *corsOriginsList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// Parse builds Options from args (typically os.Args[1:]), applying the
// documented defaults for anything not supplied.
func Parse(fs *flag.FlagSet, args []string) (Options, error) {
	var o Options
	var sourceDirs sourceDirsList
	var corsOrigins corsOriginsList

	fs.StringVar(&o.ListenAddr, "addr", "localhost:6060", "address to serve JSON-RPC on")
	fs.StringVar(&o.StatsAddr, "stats-addr", "", "address to serve the statsview dashboard on (empty disables it)")
	fs.BoolVar(&o.Echo, "log", false, "echo log entries to stdout as they are recorded")
	fs.Var(&sourceDirs, "source-dir", "default source directory to search for get_source (repeatable)")
	fs.Var(&corsOrigins, "cors-origin", "origin to allow via CORS (repeatable; defaults to *)")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	o.SourceDirs = []string(sourceDirs)
	o.CORSOrigins = []string(corsOrigins)
	if len(o.CORSOrigins) == 0 {
		o.CORSOrigins = []string{"*"}
	}

	return o, nil
}
