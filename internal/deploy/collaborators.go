package deploy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// Builder runs the project's build step.
type Builder interface {
	Build(ctx context.Context, command, dir string) error
}

// Confirmer asks the operator to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ShellBuilder runs the build command through sh -c.
type ShellBuilder struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Build runs command in dir and fails on a non-zero exit.
func (b ShellBuilder) Build(ctx context.Context, command, dir string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %q: %w", command, err)
	}
	return nil
}

// PromptConfirmer reads a y/yes answer from In. When In is not a terminal
// the prompt is declined without reading.
type PromptConfirmer struct {
	In  *os.File
	Out io.Writer

	isTerminal func(fd int) bool
}

// NewPromptConfirmer returns a confirmer on stdin and stderr.
func NewPromptConfirmer() *PromptConfirmer {
	return &PromptConfirmer{In: os.Stdin, Out: os.Stderr, isTerminal: term.IsTerminal}
}

func (p *PromptConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	isTerminal := p.isTerminal
	if isTerminal == nil {
		isTerminal = term.IsTerminal
	}
	if !isTerminal(int(p.In.Fd())) {
		fmt.Fprintf(p.Out, "%s [y/N] (stdin is not a terminal, declining)\n", prompt)
		return false, nil
	}

	fmt.Fprintf(p.Out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
