package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color identifies a terminal color independent of the rendering backend
type Color int

const (
	ColorNone Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorCyan
	ColorMagenta
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
)

// ColorTheme groups the semantic colors used by the CLI output
type ColorTheme struct {
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Highlight Color
	Muted     Color
}

// DefaultTheme returns the theme used on dark terminals
func DefaultTheme() ColorTheme {
	return ColorTheme{
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorCyan,
		Highlight: ColorBrightBlue,
		Muted:     ColorWhite,
	}
}

// PlainTheme returns a theme that renders no colors
func PlainTheme() ColorTheme {
	return ColorTheme{}
}

// ColorSystem handles color application and terminal detection
type ColorSystem interface {
	Colorize(text string, clr Color) string
	Sprintf(clr Color, format string, args ...interface{}) string
	IsColorSupported() bool
}

type colorSystem struct {
	supported bool
	profile   termenv.Profile
	colorMap  map[Color]*color.Color
}

// NewColorSystem creates a color system with terminal detection
func NewColorSystem() ColorSystem {
	cs := &colorSystem{
		supported: detectColorSupport(),
		profile:   termenv.ColorProfile(),
	}

	cs.colorMap = map[Color]*color.Color{
		ColorRed:          color.New(color.FgRed),
		ColorGreen:        color.New(color.FgGreen),
		ColorYellow:       color.New(color.FgYellow),
		ColorBlue:         color.New(color.FgBlue),
		ColorCyan:         color.New(color.FgCyan),
		ColorMagenta:      color.New(color.FgMagenta),
		ColorWhite:        color.New(color.FgWhite),
		ColorBrightRed:    color.New(color.FgHiRed),
		ColorBrightGreen:  color.New(color.FgHiGreen),
		ColorBrightYellow: color.New(color.FgHiYellow),
		ColorBrightBlue:   color.New(color.FgHiBlue),
	}

	if !cs.supported {
		color.NoColor = true
	}

	return cs
}

// NewPlainColorSystem creates a color system that never emits escapes.
// Used for non-interactive runs and in tests.
func NewPlainColorSystem() ColorSystem {
	return &colorSystem{supported: false, profile: termenv.Ascii}
}

// detectColorSupport checks whether stdout is a color-capable terminal
func detectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}

	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}

	return true
}

// Colorize applies color to text if the terminal supports it
func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.supported || clr == ColorNone {
		return text
	}

	if colorFunc, exists := cs.colorMap[clr]; exists {
		return colorFunc.Sprint(text)
	}

	return text
}

// Sprintf formats text and applies color
func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// IsColorSupported returns whether colors are supported
func (cs *colorSystem) IsColorSupported() bool {
	return cs.supported
}
