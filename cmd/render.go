package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/samsaffron/enrich/internal/research"
	"golang.org/x/term"
)

var (
	nodeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func stdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func stdinIsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// renderMarkdown writes md to w, styled with glamour unless plain is set.
func renderMarkdown(w io.Writer, md string, plain bool) error {
	if plain {
		_, err := fmt.Fprintln(w, md)
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth()),
	)
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

// printMessage prints one progress line to stderr.
func printMessage(msg research.Message) {
	if stdoutIsTTY() {
		fmt.Fprintf(os.Stderr, "%s %s\n", nodeStyle.Render(fmt.Sprintf("[%s]", msg.Node)), mutedStyle.Render(msg.Content))
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", msg.Node, msg.Content)
}

// synthesisMarkdown formats the outcome of a research run.
func synthesisMarkdown(st research.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", st.Topic)

	info := st.SynthesizedInfo
	if info == nil {
		b.WriteString("_No information was synthesized._\n")
		return b.String()
	}

	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(info.Summary))
	b.WriteString("\n\n")

	if strings.TrimSpace(info.Justification) != "" {
		b.WriteString("## Justification\n\n")
		b.WriteString(strings.TrimSpace(info.Justification))
		b.WriteString("\n\n")
	}

	if len(info.Data) > 0 {
		data, err := json.MarshalIndent(info.Data, "", "  ")
		if err == nil {
			b.WriteString("## Data\n\n```json\n")
			b.Write(data)
			b.WriteString("\n```\n\n")
		}
	}

	if len(info.References) > 0 {
		b.WriteString("## References\n\n")
		for _, ref := range info.References {
			fmt.Fprintf(&b, "- %s\n", ref)
		}
		b.WriteString("\n")
	}

	if v := st.Validation; v != nil && len(v.Reasons) > 0 {
		verdict := "satisfactory"
		if !v.IsSatisfactory {
			verdict = "not satisfactory"
		}
		fmt.Fprintf(&b, "## Validation (%s)\n\n", verdict)
		for _, reason := range v.Reasons {
			fmt.Fprintf(&b, "- %s\n", reason)
		}
	}
	return b.String()
}
