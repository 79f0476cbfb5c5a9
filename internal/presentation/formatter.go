package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/protdict/internal/snapshot"
)

// Table column limits.
const (
	maxKeyWidth   = 32
	maxValueWidth = 48
)

// noMarginStyle is a JSON style that removes document margins.
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

// Formatter handles output formatting
type Formatter struct {
	writer   io.Writer
	format   snapshot.Format
	indent   int
	color    bool
	renderer *lipgloss.Renderer

	added   lipgloss.Style
	removed lipgloss.Style
	context lipgloss.Style
	header  lipgloss.Style
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithFormat selects json or yaml for structured output.
func WithFormat(format snapshot.Format) Option {
	return func(f *Formatter) { f.format = format }
}

// WithIndent sets spaces per nesting level.
func WithIndent(indent int) Option {
	return func(f *Formatter) { f.indent = indent }
}

// WithColor enables styled output when the writer supports it.
func WithColor(enabled bool) Option {
	return func(f *Formatter) { f.color = enabled }
}

// WithColorProfile forces a colour profile regardless of the writer.
func WithColorProfile(profile termenv.Profile) Option {
	return func(f *Formatter) {
		f.color = profile != termenv.Ascii
		f.renderer.SetColorProfile(profile)
	}
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer, opts ...Option) *Formatter {
	f := &Formatter{
		writer:   writer,
		format:   snapshot.JSON,
		indent:   2,
		color:    true,
		renderer: lipgloss.NewRenderer(writer),
	}
	for _, opt := range opts {
		opt(f)
	}
	if !f.color {
		f.renderer.SetColorProfile(termenv.Ascii)
	}

	f.added = f.renderer.NewStyle().Foreground(lipgloss.Color("#10B981"))
	f.removed = f.renderer.NewStyle().Foreground(lipgloss.Color("#FF8787"))
	f.context = f.renderer.NewStyle().Foreground(lipgloss.Color("#696969"))
	f.header = f.renderer.NewStyle().Bold(true)
	return f
}

// FormatValue writes any value in the configured structured format.
func (f *Formatter) FormatValue(v any) error {
	switch f.format {
	case snapshot.YAML:
		encoder := yaml.NewEncoder(f.writer)
		if f.indent > 0 {
			encoder.SetIndent(f.indent)
		}
		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return encoder.Close()
	default:
		encoder := json.NewEncoder(f.writer)
		if f.indent > 0 {
			encoder.SetIndent("", strings.Repeat(" ", f.indent))
		}
		return encoder.Encode(v)
	}
}

// FormatSnapshot writes an exported container.
func (f *Formatter) FormatSnapshot(doc map[string]any) error {
	return snapshot.Encode(f.writer, doc, f.format, f.indent)
}

// FormatEntries writes entry DTOs in the structured format.
func (f *Formatter) FormatEntries(entries []EntryDTO) error {
	return f.FormatValue(entries)
}

// FormatTable writes entries as aligned text columns: key, tags, value.
// Long keys and values are truncated.
func (f *Formatter) FormatTable(entries []EntryDTO) error {
	keyWidth := len("KEY")
	tagWidth := len("TAGS")
	rows := make([][3]string, 0, len(entries))
	for _, e := range entries {
		key := ansi.Truncate(e.Key, maxKeyWidth, "…")
		tags := strings.Join(e.Tags, ",")
		value := ansi.Truncate(strings.ReplaceAll(fmt.Sprint(e.Value), "\n", " "), maxValueWidth, "…")
		keyWidth = max(keyWidth, runewidth.StringWidth(key))
		tagWidth = max(tagWidth, runewidth.StringWidth(tags))
		rows = append(rows, [3]string{key, tags, value})
	}

	header := runewidth.FillRight("KEY", keyWidth) + "  " + runewidth.FillRight("TAGS", tagWidth) + "  VALUE"
	if _, err := fmt.Fprintln(f.writer, f.header.Render(header)); err != nil {
		return err
	}
	for _, r := range rows {
		line := runewidth.FillRight(r[0], keyWidth) + "  " + runewidth.FillRight(r[1], tagWidth) + "  " + r[2]
		if _, err := fmt.Fprintln(f.writer, line); err != nil {
			return err
		}
	}
	return nil
}

// FormatDiff writes diff lines with "+", "-" or " " prefixes, coloured when enabled.
func (f *Formatter) FormatDiff(oldPath, newPath string, lines []snapshot.DiffLine) error {
	if _, err := fmt.Fprintln(f.writer, f.header.Render("--- "+oldPath)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f.writer, f.header.Render("+++ "+newPath)); err != nil {
		return err
	}
	for _, l := range lines {
		var out string
		switch l.Type {
		case snapshot.LineAdded:
			out = f.added.Render("+ " + l.Content)
		case snapshot.LineRemoved:
			out = f.removed.Render("- " + l.Content)
		default:
			out = f.context.Render("  " + l.Content)
		}
		if _, err := fmt.Fprintln(f.writer, out); err != nil {
			return err
		}
	}
	return nil
}

// FormatMarkdown renders markdown for the terminal. Without colour the
// "notty" style is used so the output stays plain text.
func (f *Formatter) FormatMarkdown(markdown string, width int) error {
	style := "dark"
	if !f.color || f.renderer.ColorProfile() == termenv.Ascii {
		style = "notty"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(f.writer, out)
	return err
}

// DescribeMarkdown renders entries as a markdown document with one table row per entry.
func DescribeMarkdown(title string, entries []EntryDTO) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if len(entries) == 0 {
		b.WriteString("_No entries._\n")
		return b.String()
	}
	b.WriteString("| Key | Tags | Types | Validators | Description |\n")
	b.WriteString("|-----|------|-------|------------|-------------|\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s |\n",
			e.Key,
			strings.Join(e.Tags, ", "),
			strings.Join(e.Types, ", "),
			strings.Join(e.Validators, ", "),
			strings.ReplaceAll(e.Description, "|", `\|`),
		)
	}
	return b.String()
}
