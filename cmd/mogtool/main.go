// Package main implements mogtool, a command-line client for a tracker
// managed file store.
//
// Usage:
//
//	mogtool [flags] <command> [args]
//
// Commands:
//
//	put <key> <file|->     store a file (or stdin) under key
//	get <key> [out]        fetch key to out, or stdout
//	info <key>             show what the tracker knows about key
//	paths <key>            list the URLs key can be read from
//	delete <key>           remove key
//	rename <from> <to>     rename a key within the domain
//	list [prefix]          list keys, optionally by prefix
//	domains                list domains and their classes
//	trackers               probe every configured tracker
//
// Configuration is layered: defaults, then the YAML file named by -config or
// $MOGILE_CONFIG, then MOGILE_* environment variables, then flags.
//
// Example:
//
//	MOGILE_TRACKERS=10.0.0.1:7001,10.0.0.2:7001 \
//	  mogtool -domain photos -class thumbs put cat.jpg ./cat.jpg
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/mogile/internal/config"
	"github.com/dreamware/mogile/internal/logging"
	"github.com/dreamware/mogile/internal/tracker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// env is what a command runs against.
type env struct {
	cfg    config.Config
	conn   *tracker.Conn
	log    logrus.FieldLogger
	class  string
	stdin  io.Reader
	stdout io.Writer
}

// run executes one mogtool invocation and returns the process exit code:
// 0 on success, 1 when the command fails, 2 on a usage error.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mogtool", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file (default $MOGILE_CONFIG)")
	trackers := fs.String("trackers", "", "comma separated tracker host:port list")
	domain := fs.String("domain", "", "domain for file commands")
	class := fs.String("class", "", "storage class for put")
	timeout := fs.Duration("timeout", 0, "tracker response timeout")
	readonly := fs.Bool("readonly", false, "refuse commands that change anything")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: mogtool [flags] <command> [args]")
		fmt.Fprintln(stderr, "commands:")
		for _, name := range commandNames() {
			fmt.Fprintf(stderr, "  %-8s %s\n", name, commands[name].usage)
		}
		fmt.Fprintln(stderr, "flags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "mogtool: unknown command %q\n", name)
		fs.Usage()
		return 2
	}
	cmdArgs := fs.Args()[1:]
	if len(cmdArgs) < cmd.minArgs || len(cmdArgs) > cmd.maxArgs {
		fmt.Fprintf(stderr, "usage: mogtool %s %s\n", name, cmd.usage)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "mogtool: %v\n", err)
		return 1
	}
	if *trackers != "" {
		cfg.Trackers = config.SplitList(*trackers)
	}
	if *domain != "" {
		cfg.Domain = *domain
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg.ReadOnly = cfg.ReadOnly || *readonly
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "mogtool: invalid configuration: %v\n", err)
		return 1
	}
	if cmd.needsDomain && cfg.Domain == "" {
		fmt.Fprintf(stderr, "mogtool %s: no domain configured (use -domain or MOGILE_DOMAIN)\n", name)
		return 2
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "mogtool: %v\n", err)
		return 1
	}
	pool, err := cfg.NewPool()
	if err != nil {
		fmt.Fprintf(stderr, "mogtool: %v\n", err)
		return 1
	}
	conn := tracker.NewConn(pool, cfg.ConnOptions(log)...)
	defer conn.Close()

	e := &env{cfg: cfg, conn: conn, log: log, class: *class, stdin: stdin, stdout: stdout}
	if err := cmd.run(ctx, e, cmdArgs); err != nil {
		if errors.Is(err, errSilent) {
			return 1
		}
		fmt.Fprintf(stderr, "mogtool %s: %v\n", name, err)
		return 1
	}
	return 0
}
