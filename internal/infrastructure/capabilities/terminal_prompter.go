package capabilities

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/reglet-dev/warden/internal/domain/permissions"
)

// TerminalPrompter asks the operator on the controlling terminal.
type TerminalPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewTerminalPrompter creates a prompter on stdin and stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr}
}

// IsInteractive reports whether input comes from a terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	f, ok := p.in.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Confirm lists the pending capabilities and asks for a single yes or no.
// Aborting the prompt counts as no.
func (p *TerminalPrompter) Confirm(ctx context.Context, plugin string, pending []permissions.Capability) (bool, error) {
	var approved bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Plugin %q requests new permissions", plugin)).
				Description(DescribeCapabilities(pending)).
				Affirmative("Allow").
				Negative("Deny").
				Value(&approved),
		),
	).WithInput(p.in).WithOutput(p.out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return approved, nil
}

// DescribeCapabilities renders one line per capability with its risk.
func DescribeCapabilities(caps []permissions.Capability) string {
	var b strings.Builder
	for i, c := range caps {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s - %s", strings.ToUpper(c.RiskLevel().String()), c, c.RiskDescription())
	}
	return b.String()
}
