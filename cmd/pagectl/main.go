// Command pagectl talks to a running WriteShare API. The edit subcommand
// reads title lines from stdin and commits them through the autosave
// engine, the same path a browser editor uses.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"writeshare/api/internal/autosave"
	"writeshare/api/internal/client"
	"writeshare/api/internal/logging"
)

const usage = `usage: pagectl [flags] <command> [args]

commands:
  login <email> [name]          print a development token
  workspaces                    list your workspaces
  create-workspace <name>
  rename-workspace <id> <name>
  members <workspace-id>
  invite <workspace-id> <email>
  pages <workspace-id>
  create-page <workspace-id> [title]
  open <page-id>                open a page session
  search <workspace-id> <text>
  edit <page-id>                autosave title lines read from stdin
`

func main() {
	if err := mainInner(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "pagectl:", err)
		os.Exit(1)
	}
}

func mainInner(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("pagectl", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage); fs.PrintDefaults() }
	addr := fs.String("addr", envOr("WRITESHARE_API", "http://localhost:8787"), "API base URL")
	token := fs.String("token", os.Getenv("WRITESHARE_TOKEN"), "bearer token")
	debounce := fs.Duration("debounce", autosave.DefaultDebounce, "autosave debounce window for edit")
	writeTimeout := fs.Duration("write-timeout", autosave.DefaultWriteTimeout, "timeout for each autosave write")
	verbose := fs.Bool("v", false, "log autosave activity to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(*addr)
	c.SetToken(*token)
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "login":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		name := ""
		if len(rest) > 1 {
			name = rest[1]
		}
		result, err := c.Login(ctx, name, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, result)
	case "workspaces":
		return show(c.ListWorkspaces(ctx))(stdout)
	case "create-workspace":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		return show(c.CreateWorkspace(ctx, strings.Join(rest, " ")))(stdout)
	case "rename-workspace":
		if err := needArgs(rest, 2); err != nil {
			return err
		}
		return show(c.RenameWorkspace(ctx, rest[0], strings.Join(rest[1:], " ")))(stdout)
	case "members":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		return show(c.ListMembers(ctx, rest[0]))(stdout)
	case "invite":
		if err := needArgs(rest, 2); err != nil {
			return err
		}
		return show(c.Invite(ctx, rest[0], rest[1]))(stdout)
	case "pages":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		return show(c.ListPages(ctx, rest[0]))(stdout)
	case "create-page":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		return show(c.CreatePage(ctx, rest[0], strings.Join(rest[1:], " "), ""))(stdout)
	case "open":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		return show(c.OpenPageSession(ctx, rest[0]))(stdout)
	case "search":
		if err := needArgs(rest, 2); err != nil {
			return err
		}
		return show(c.Search(ctx, rest[0], strings.Join(rest[1:], " "), 0, 0))(stdout)
	case "edit":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		log := zerolog.Nop()
		if *verbose {
			log = logging.New(os.Stderr, "debug", true)
		}
		return edit(ctx, c, rest[0], stdin, stdout, log,
			autosave.WithDebounce(*debounce), autosave.WithWriteTimeout(*writeTimeout))
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// edit hydrates an autosave engine from the stored page and feeds it one
// title per input line. An empty line saves right away. Closing stdin
// flushes the last edit.
func edit(ctx context.Context, c *client.Client, pageID string, stdin io.Reader, stdout io.Writer, log zerolog.Logger, opts ...autosave.Option) error {
	page, err := c.GetPage(ctx, pageID)
	if err != nil {
		return err
	}
	engine := autosave.New(page.ID, c, append(opts, autosave.WithLogger(log))...)
	engine.Hydrate(autosave.Values{Title: page.Title, Emoji: page.Emoji})

	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			engine.Flush()
			continue
		}
		if err := engine.ScheduleChange(autosave.FieldTitle, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	closeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := engine.Close(closeCtx); err != nil {
		return err
	}
	status := engine.Status()
	fmt.Fprintf(stdout, "%s: %q\n", status.State, status.Committed.Title)
	return nil
}

func needArgs(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}

func show[T any](v T, err error) func(io.Writer) error {
	return func(w io.Writer) error {
		if err != nil {
			return err
		}
		return printJSON(w, v)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
