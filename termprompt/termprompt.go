// Package termprompt implements negotiate.Prompter on a terminal.
//
// Masked fields are read without echo via golang.org/x/term when the
// input is a real terminal; otherwise (piped input, tests) they fall
// back to plain line reads. End of input is reported as
// negotiate.ErrAborted, so closing stdin declines the prompt.
package termprompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"lds.li/proxyauth/negotiate"
)

// Prompter asks for credential fields on a terminal. The zero value
// reads from stdin and writes to stderr; New returns one ready to use.
type Prompter struct {
	// In is the input to read answers from. Defaults to os.Stdin.
	In *os.File

	// Out is where labels are written. Defaults to os.Stderr, keeping
	// prompts out of piped stdout.
	Out io.Writer

	r *bufio.Reader
}

// New returns a Prompter on stdin/stderr.
func New() *Prompter {
	return &Prompter{}
}

var _ negotiate.Prompter = (*Prompter)(nil)

// Prompt displays the request's title and fields and collects one
// answer per field, in order. Cancelling ctx abandons the prompt; the
// pending terminal read is left to finish on its own, its answer
// discarded.
func (p *Prompter) Prompt(ctx context.Context, req *negotiate.PromptRequest) (*negotiate.PromptResponse, error) {
	type result struct {
		resp *negotiate.PromptResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := p.read(req)
		ch <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.resp, r.err
	}
}

func (p *Prompter) read(req *negotiate.PromptRequest) (*negotiate.PromptResponse, error) {
	in := p.In
	if in == nil {
		in = os.Stdin
	}
	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	if p.r == nil {
		p.r = bufio.NewReader(in)
	}

	if req.Title != "" {
		fmt.Fprintln(out, req.Title)
	}

	resp := &negotiate.PromptResponse{}
	for _, f := range req.Fields {
		fmt.Fprintf(out, "%s: ", f.Label)

		var value []byte
		var err error
		if f.Masked && term.IsTerminal(int(in.Fd())) {
			value, err = term.ReadPassword(int(in.Fd()))
			fmt.Fprintln(out)
		} else {
			value, err = p.readLine()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, negotiate.ErrAborted
			}
			return nil, fmt.Errorf("termprompt: read %s: %w", f.Label, err)
		}
		resp.Values = append(resp.Values, value)
	}
	return resp, nil
}

// readLine reads one line from the buffered input, with the trailing
// newline (and carriage return) removed. EOF on a non-empty final line
// still yields that line.
func (p *Prompter) readLine() ([]byte, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}
