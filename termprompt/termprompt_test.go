package termprompt

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"lds.li/proxyauth/negotiate"
)

// pipePrompter returns a Prompter reading from a pipe preloaded with
// input, writing labels to a discarded pipe.
func pipePrompter(t *testing.T, input string) *Prompter {
	t.Helper()

	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		inR.Close()
		outR.Close()
		outW.Close()
	})

	go func() {
		inW.WriteString(input)
		inW.Close()
	}()
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := outR.Read(buf); err != nil {
				return
			}
		}
	}()

	return &Prompter{In: inR, Out: outW}
}

func TestPromptReadsFields(t *testing.T) {
	p := pipePrompter(t, "alice\nhunter2\n")

	resp, err := p.Prompt(context.Background(), &negotiate.PromptRequest{
		Title: "HTTP proxy authentication",
		Fields: []negotiate.PromptField{
			{Label: "Proxy username"},
			{Label: "Proxy password", Masked: true},
		},
	})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if len(resp.Values) != 2 {
		t.Fatalf("got %d values, want 2", len(resp.Values))
	}
	if got := string(resp.Values[0]); got != "alice" {
		t.Errorf("username = %q, want %q", got, "alice")
	}
	if got := string(resp.Values[1]); got != "hunter2" {
		t.Errorf("password = %q, want %q", got, "hunter2")
	}
}

func TestPromptStripsCRLF(t *testing.T) {
	p := pipePrompter(t, "secret\r\n")

	resp, err := p.Prompt(context.Background(), &negotiate.PromptRequest{
		Fields: []negotiate.PromptField{{Label: "Proxy password", Masked: true}},
	})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if got := string(resp.Values[0]); got != "secret" {
		t.Errorf("value = %q, want %q", got, "secret")
	}
}

func TestPromptEOFAborts(t *testing.T) {
	p := pipePrompter(t, "")

	_, err := p.Prompt(context.Background(), &negotiate.PromptRequest{
		Fields: []negotiate.PromptField{{Label: "Proxy password", Masked: true}},
	})
	if !errors.Is(err, negotiate.ErrAborted) {
		t.Errorf("Prompt error = %v, want ErrAborted", err)
	}
}

func TestPromptFinalLineWithoutNewline(t *testing.T) {
	p := pipePrompter(t, "trailing")

	resp, err := p.Prompt(context.Background(), &negotiate.PromptRequest{
		Fields: []negotiate.PromptField{{Label: "Proxy username"}},
	})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if got := string(resp.Values[0]); got != "trailing" {
		t.Errorf("value = %q, want %q", got, "trailing")
	}
}

func TestPromptContextCancel(t *testing.T) {
	// The input pipe never delivers anything, so the prompt stays
	// blocked until the context gives up.
	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer inR.Close()
	defer inW.Close()

	p := &Prompter{In: inR, Out: io.Discard}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Prompt(ctx, &negotiate.PromptRequest{
		Fields: []negotiate.PromptField{{Label: "Proxy username"}},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Prompt error = %v, want context.DeadlineExceeded", err)
	}
}
