// Package session
// This file is the hub of the `session` package. The `Client` struct defined here
// holds the open queue and has the responsibility of interpreting user inputs.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/alpacahq/marketqueue/queue"
)

func NewClient(q *queue.Queue, out io.Writer) *Client {
	return &Client{
		q:   q,
		out: out,
	}
}

type Client struct {
	q *queue.Queue
	// ex is opened on first use and holds the writer role once \append ran.
	ex  *queue.Excerpt
	out io.Writer
}

// Read kicks off the buffer reading process.
func (c *Client) Read() error {
	// Build reader.
	r, err := newReader()
	if err != nil {
		return err
	}
	defer r.Close()
	defer c.Close()

	fmt.Fprintf(os.Stderr, "Connected to queue %s in %s\n", c.q.Name(), c.q.Dir())
	fmt.Fprintf(os.Stderr, "Type `\\help` to see command options\n")

	// User input evaluation loop.
	for {
		// Read input.
		line, err := r.Readline()

		// Terminate evaluation.
		if errors.Is(err, io.EOF) {
			return nil
		}

		// Printed interrupt prompt.
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}

		// Print error.
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			continue
		}

		if quit := c.Eval(line); quit {
			return nil
		}
	}
}

// Eval runs one input line and reports whether the session should end.
func (c *Client) Eval(line string) (quit bool) {
	// Remove leading/trailing spaces.
	line = strings.Trim(line, " ")

	switch {
	case strings.HasPrefix(line, `\append`):
		c.append(line)
	case strings.HasPrefix(line, `\read`):
		c.read(line)
	case strings.HasPrefix(line, `\tail`):
		c.tail(line)
	case strings.HasPrefix(line, `\stats`):
		c.stats()
	case strings.HasPrefix(line, `\verify`):
		c.verify()
	case strings.HasPrefix(line, `\help`) || strings.HasPrefix(line, `\?`):
		c.functionHelp(line)
	case line == "help":
		c.functionHelp(`\help`)
	// Quit.
	case line == `\stop`, line == `\quit`, line == `\q`, line == `exit`:
		return true
	// Nothing to do.
	case line == "":
	default:
		fmt.Fprintf(c.out, "Unknown command %q, type `\\help` to see command options\n", line)
	}
	return false
}

// Close releases the handles the session opened.
func (c *Client) Close() {
	if c.ex != nil {
		_ = c.ex.Close()
		c.ex = nil
	}
}

func (c *Client) excerpt() (*queue.Excerpt, error) {
	if c.ex != nil {
		return c.ex, nil
	}
	ex, err := c.q.CreateExcerpt()
	if err != nil {
		return nil, err
	}
	c.ex = ex
	return ex, nil
}

func newReader() (*readline.Instance, error) {
	// Determine history file path.
	usr, err := user.Current()
	if err != nil {
		return nil, errors.New("unable to obtain home directory")
	}
	history := filepath.Join(usr.HomeDir, ".marketqueueReaderHistory")

	// Register commands with autocompletion.
	autoComplete := readline.NewPrefixCompleter(
		readline.PcItem(`\append`),
		readline.PcItem(`\read`),
		readline.PcItem(`\tail`),
		readline.PcItem(`\stats`),
		readline.PcItem(`\verify`),
		readline.PcItem(`\help`),
		readline.PcItem(`\quit`),
		readline.PcItem(`\q`),
		readline.PcItem(`\?`),
		readline.PcItem(`\stop`),
	)

	// Build config.
	config := &readline.Config{
		Prompt:          "\033[31m»\033[0m ",
		HistoryFile:     history,
		AutoComplete:    autoComplete,
		InterruptPrompt: "\nInterrupt, Press Ctrl+D to exit",
		EOFPrompt:       "exit",
	}

	// return reader.
	return readline.NewEx(config)
}
