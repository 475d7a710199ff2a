package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/mogile/internal/admin"
	"github.com/dreamware/mogile/internal/client"
	"github.com/dreamware/mogile/internal/tracker"
)

// errSilent marks a failure the command already reported.
var errSilent = errors.New("failed")

// listPageSize is how many keys one list_keys round trip asks for.
var listPageSize = 1000

type command struct {
	usage       string
	minArgs     int
	maxArgs     int
	needsDomain bool
	run         func(ctx context.Context, e *env, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"put":      {"<key> <file|->", 2, 2, true, cmdPut},
		"get":      {"<key> [out]", 1, 2, true, cmdGet},
		"info":     {"<key>", 1, 1, true, cmdInfo},
		"paths":    {"<key>", 1, 1, true, cmdPaths},
		"delete":   {"<key>", 1, 1, true, cmdDelete},
		"rename":   {"<from> <to>", 2, 2, true, cmdRename},
		"list":     {"[prefix]", 0, 1, true, cmdList},
		"domains":  {"", 0, 0, false, cmdDomains},
		"trackers": {"", 0, 0, false, cmdTrackers},
	}
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *env) client() *client.Client {
	return client.New(e.cfg.Domain, e.conn,
		client.WithReadOnly(e.cfg.ReadOnly),
		client.WithLogger(e.log))
}

func cmdPut(ctx context.Context, e *env, args []string) error {
	key, src := args[0], args[1]
	var r io.Reader = e.stdin
	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	n, err := e.client().StoreFile(ctx, key, e.class, r, client.NewFileOptions{})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "stored %s (%s)\n", key, humanize.IBytes(uint64(n)))
	return nil
}

func cmdGet(ctx context.Context, e *env, args []string) error {
	body, err := e.client().ReadFile(ctx, args[0])
	if err != nil {
		return err
	}
	defer body.Close()

	if len(args) == 1 {
		_, err = io.Copy(e.stdout, body)
		return err
	}
	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "wrote %s (%s)\n", args[1], humanize.IBytes(uint64(n)))
	return nil
}

func cmdInfo(ctx context.Context, e *env, args []string) error {
	info, err := e.client().FileInfo(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "key:      %s\n", info.Key)
	fmt.Fprintf(e.stdout, "domain:   %s\n", info.Domain)
	fmt.Fprintf(e.stdout, "class:    %s\n", info.Class)
	fmt.Fprintf(e.stdout, "fid:      %d\n", info.Fid)
	fmt.Fprintf(e.stdout, "length:   %s (%s bytes)\n", humanize.IBytes(uint64(info.Length)), humanize.Comma(info.Length))
	fmt.Fprintf(e.stdout, "devcount: %d\n", info.DevCount)
	return nil
}

func cmdPaths(ctx context.Context, e *env, args []string) error {
	paths, err := e.client().GetPaths(ctx, args[0], client.GetPathsOptions{})
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("%q: %w", args[0], client.ErrNotFound)
	}
	for _, p := range paths {
		fmt.Fprintln(e.stdout, p)
	}
	return nil
}

func cmdDelete(ctx context.Context, e *env, args []string) error {
	return e.client().Delete(ctx, args[0])
}

func cmdRename(ctx context.Context, e *env, args []string) error {
	return e.client().Rename(ctx, args[0], args[1])
}

func cmdList(ctx context.Context, e *env, args []string) error {
	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}
	c := e.client()
	after := ""
	for {
		keys, next, err := c.ListKeys(ctx, prefix, after, listPageSize)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(e.stdout, k)
		}
		if len(keys) < listPageSize || next == "" {
			return nil
		}
		after = next
	}
}

func cmdDomains(ctx context.Context, e *env, _ []string) error {
	domains, err := admin.New(e.conn, e.cfg.ReadOnly).GetDomains(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(domains))
	for d := range domains {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, d := range names {
		fmt.Fprintln(e.stdout, d)
		classes := make([]string, 0, len(domains[d]))
		for c := range domains[d] {
			classes = append(classes, c)
		}
		sort.Strings(classes)
		for _, c := range classes {
			fmt.Fprintf(e.stdout, "  %-20s mindevcount=%d\n", c, domains[d][c])
		}
	}
	return nil
}

// probe is one tracker's noop result.
type probe struct {
	addr tracker.Address
	rtt  time.Duration
	err  error
}

// cmdTrackers sends noop to every configured tracker at once, each over its
// own connection, and reports which ones answered.
func cmdTrackers(ctx context.Context, e *env, _ []string) error {
	addrs := e.conn.Pool().Hosts()
	results := make([]probe, len(addrs))

	var g errgroup.Group
	g.SetLimit(8)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			pool := tracker.NewHostPool([]tracker.Address{addr}, tracker.WithPreferredIPs(e.cfg.PreferredIPs))
			conn := tracker.NewConn(pool, e.cfg.ConnOptions(e.log)...)
			defer conn.Close()
			start := time.Now()
			_, err := conn.Request(ctx, "noop", nil)
			results[i] = probe{addr: addr, rtt: time.Since(start), err: err}
			return err
		})
	}
	failed := g.Wait()

	for _, p := range results {
		if p.err != nil {
			fmt.Fprintf(e.stdout, "%-22s down  %v\n", p.addr, p.err)
			continue
		}
		fmt.Fprintf(e.stdout, "%-22s ok    %s\n", p.addr, p.rtt.Round(time.Microsecond))
	}
	if failed != nil {
		return errSilent
	}
	return nil
}
