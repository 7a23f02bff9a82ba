package display

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Printer renders user-facing status lines for the CLI. Log records go
// through the logging package; Printer is for the human-readable run
// narrative on stdout.
type Printer struct {
	writer   io.Writer
	colorSys ColorSystem
	theme    ColorTheme
	useIcons bool
	quiet    bool
}

// PrinterOptions configures a Printer
type PrinterOptions struct {
	Writer   io.Writer
	ColorSys ColorSystem
	Theme    ColorTheme
	UseIcons bool
	Quiet    bool
}

// NewPrinter creates a printer with the given options
func NewPrinter(opts PrinterOptions) *Printer {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.ColorSys == nil {
		opts.ColorSys = NewColorSystem()
	}
	return &Printer{
		writer:   opts.Writer,
		colorSys: opts.ColorSys,
		theme:    opts.Theme,
		useIcons: opts.UseIcons,
		quiet:    opts.Quiet,
	}
}

// NewDefaultPrinter creates a printer for stdout with the default theme
func NewDefaultPrinter() *Printer {
	return NewPrinter(PrinterOptions{
		Theme:    DefaultTheme(),
		UseIcons: true,
	})
}

func (p *Printer) icon(symbol string) string {
	if !p.useIcons {
		return ""
	}
	return symbol + " "
}

// Success prints a success line
func (p *Printer) Success(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	msg := p.icon("✓") + fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.colorSys.Colorize(msg, p.theme.Success))
}

// Warning prints a warning line
func (p *Printer) Warning(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	msg := p.icon("⚠") + fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.colorSys.Colorize(msg, p.theme.Warning))
}

// Error prints an error line. Errors print even in quiet mode.
func (p *Printer) Error(format string, args ...interface{}) {
	msg := p.icon("✗") + fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.colorSys.Colorize(msg, p.theme.Error))
}

// Info prints an informational line
func (p *Printer) Info(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	msg := p.icon("ℹ") + fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.colorSys.Colorize(msg, p.theme.Info))
}

// Plain prints a line without decoration
func (p *Printer) Plain(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.writer, format+"\n", args...)
}

// Header prints a highlighted section header
func (p *Printer) Header(text string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.writer, p.colorSys.Colorize(text, p.theme.Highlight))
}

// Writer returns the underlying writer
func (p *Printer) Writer() io.Writer {
	return p.writer
}

// TerminalWidth returns the terminal width, or a sane default when
// stdout is not a terminal
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 100
	}
	return width
}

// Truncate shortens s to fit within width columns, appending an
// ellipsis when text was cut
func Truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
