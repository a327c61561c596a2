package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/docsession/internal/session"
)

// CommandFunc runs a console command. args excludes the command name.
type CommandFunc func(ctx context.Context, c *Console, args []string) error

// Command is a named console command.
type Command struct {
	Name  string
	Usage string
	Help  string
	Run   CommandFunc
}

// Console is a line-oriented front end over the session manager. Each line
// is a command name followed by whitespace-separated arguments.
type Console struct {
	app      *Application
	out      io.Writer
	commands map[string]*Command
}

// NewConsole creates a console for app with the built-in commands defined.
func NewConsole(app *Application, out io.Writer) *Console {
	c := &Console{
		app:      app,
		out:      out,
		commands: make(map[string]*Command),
	}
	c.defineBuiltins()
	return c
}

// Define adds or replaces a command.
func (c *Console) Define(cmd Command) {
	c.commands[cmd.Name] = &cmd
}

// Lookup returns the command named name.
func (c *Console) Lookup(name string) (*Command, bool) {
	cmd, ok := c.commands[name]
	return cmd, ok
}

// Commands returns every command sorted by name.
func (c *Console) Commands() []*Command {
	out := make([]*Command, 0, len(c.commands))
	for _, cmd := range c.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Exec runs one command line. Blank lines and lines starting with # are
// ignored.
func (c *Console) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	name, rest, _ := strings.Cut(line, " ")
	cmd, ok := c.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return cmd.Run(ctx, c, strings.Fields(rest))
}

// Serve reads commands from in until EOF, quit, or ctx is done. Command
// errors are printed and do not stop the console.
func (c *Console) Serve(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.Exec(ctx, sc.Text())
		if errors.Is(err, ErrQuit) {
			return ErrQuit
		}
		if err != nil {
			c.printf("error: %v\n", err)
		}
	}
	return sc.Err()
}

func (c *Console) printf(format string, args ...any) {
	if c.out != nil {
		fmt.Fprintf(c.out, format, args...)
	}
}

// rawTail joins the arguments after the first n with single spaces.
func rawTail(args []string, n int) string {
	if len(args) <= n {
		return ""
	}
	return strings.Join(args[n:], " ")
}

func (c *Console) defineBuiltins() {
	c.Define(Command{
		Name:  "open",
		Usage: "open PATH[:LINE[:COL]] [PANE]",
		Help:  "open a document, creating it if missing",
		Run:   cmdOpen,
	})
	c.Define(Command{
		Name:  "insert",
		Usage: "insert OFFSET TEXT",
		Help:  "insert text into the active document (\\n for newline)",
		Run:   cmdInsert,
	})
	c.Define(Command{
		Name:  "delete",
		Usage: "delete OFFSET COUNT",
		Help:  "delete characters from the active document",
		Run:   cmdDelete,
	})
	c.Define(Command{
		Name:  "show",
		Usage: "show",
		Help:  "print the active document",
		Run:   cmdShow,
	})
	c.Define(Command{
		Name:  "list",
		Usage: "list",
		Help:  "list open sessions",
		Run:   cmdList,
	})
	c.Define(Command{
		Name:  "pane",
		Usage: "pane N",
		Help:  "focus pane N",
		Run:   cmdPane,
	})
	c.Define(Command{
		Name:  "save-state",
		Usage: "save-state",
		Help:  "snapshot the session state now",
		Run:   cmdSaveState,
	})
	c.Define(Command{
		Name:  "help",
		Usage: "help",
		Help:  "list commands",
		Run:   cmdHelp,
	})
	c.Define(Command{
		Name:  "quit",
		Usage: "quit",
		Help:  "exit",
		Run:   func(context.Context, *Console, []string) error { return ErrQuit },
	})
}

func cmdOpen(ctx context.Context, c *Console, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("open PATH[:LINE[:COL]] [PANE]")
	}
	var opts []session.GoOption
	if len(args) == 2 {
		pane, err := strconv.Atoi(args[1])
		if err != nil {
			return usageError("open PATH[:LINE[:COL]] [PANE]")
		}
		opts = append(opts, session.InPane(pane))
	}
	s, err := c.app.sessions.Open(ctx, args[0], opts...)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	var ro string
	if s.ReadOnly() {
		ro = " (read-only)"
	}
	c.printf("opened %s%s\n", s.Path(), ro)
	return nil
}

func cmdInsert(ctx context.Context, c *Console, args []string) error {
	if len(args) < 2 {
		return usageError("insert OFFSET TEXT")
	}
	offset, err := strconv.Atoi(args[0])
	if err != nil {
		return usageError("insert OFFSET TEXT")
	}
	text := strings.ReplaceAll(rawTail(args, 1), `\n`, "\n")
	return c.app.withActive(ctx, func(s *session.Session) error {
		return s.Buffer().Insert(offset, text)
	})
}

func cmdDelete(ctx context.Context, c *Console, args []string) error {
	if len(args) != 2 {
		return usageError("delete OFFSET COUNT")
	}
	offset, err1 := strconv.Atoi(args[0])
	n, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return usageError("delete OFFSET COUNT")
	}
	return c.app.withActive(ctx, func(s *session.Session) error {
		return s.Buffer().Delete(offset, n)
	})
}

func cmdShow(ctx context.Context, c *Console, _ []string) error {
	var path, content string
	err := c.app.withActive(ctx, func(s *session.Session) error {
		path, content = s.Path(), s.Buffer().Value()
		return nil
	})
	if err != nil {
		return err
	}
	c.printf("--- %s\n%s\n---\n", path, content)
	return nil
}

func cmdList(ctx context.Context, c *Console, _ []string) error {
	var lines []string
	err := c.app.onLoop(ctx, func() {
		shown := make(map[*session.Session][]string)
		for i, s := range c.app.sessions.Displayed() {
			if s != nil {
				shown[s] = append(shown[s], strconv.Itoa(i))
			}
		}
		for _, s := range c.app.sessions.Registry().Sessions() {
			line := fmt.Sprintf("%s\t%s", s.Path(), s.State())
			if s.SavePending() {
				line += "\tsave-pending"
			}
			if panes := shown[s]; len(panes) > 0 {
				line += "\tpane " + strings.Join(panes, ",")
			}
			lines = append(lines, line)
		}
	})
	if err != nil {
		return err
	}
	for _, l := range lines {
		c.printf("%s\n", l)
	}
	return nil
}

func cmdPane(ctx context.Context, c *Console, args []string) error {
	if len(args) != 1 {
		return usageError("pane N")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return usageError("pane N")
	}
	var focusErr error
	if err := c.app.onLoop(ctx, func() { focusErr = c.app.engine.Focus(n) }); err != nil {
		return err
	}
	return focusErr
}

func cmdSaveState(_ context.Context, c *Console, _ []string) error {
	c.app.sessions.Snapshot()
	return nil
}

func cmdHelp(_ context.Context, c *Console, _ []string) error {
	for _, cmd := range c.Commands() {
		c.printf("%-36s %s\n", cmd.Usage, cmd.Help)
	}
	return nil
}
