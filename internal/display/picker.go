package display

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PickerItem is one selectable entry in an interactive picker
type PickerItem struct {
	Label   string
	Details string
}

// Picker presents a numbered list on the terminal and reads the
// operator's selection. Restore uses it when no explicit artifact was
// named and LATEST was not requested.
type Picker struct {
	title    string
	items    []PickerItem
	writer   io.Writer
	reader   *bufio.Reader
	colorSys ColorSystem
	theme    ColorTheme
}

// NewPicker creates a picker over the given items
func NewPicker(title string, items []PickerItem, w io.Writer, r io.Reader, colorSys ColorSystem, theme ColorTheme) *Picker {
	return &Picker{
		title:    title,
		items:    items,
		writer:   w,
		reader:   bufio.NewReader(r),
		colorSys: colorSys,
		theme:    theme,
	}
}

// Pick renders the list and returns the index of the chosen item.
// Entering q cancels and returns an error.
func (p *Picker) Pick() (int, error) {
	if len(p.items) == 0 {
		return -1, fmt.Errorf("no items to select from")
	}

	width := TerminalWidth()

	fmt.Fprintln(p.writer)
	fmt.Fprintln(p.writer, p.colorSys.Colorize(p.title, p.theme.Highlight))

	for i, item := range p.items {
		line := fmt.Sprintf("  %2d) %s", i+1, item.Label)
		if item.Details != "" {
			line += "  " + p.colorSys.Colorize(item.Details, p.theme.Muted)
		}
		fmt.Fprintln(p.writer, Truncate(line, width))
	}

	for {
		fmt.Fprintf(p.writer, "Select [1-%d, q to cancel]: ", len(p.items))

		input, err := p.reader.ReadString('\n')
		if err != nil {
			return -1, fmt.Errorf("failed to read selection: %w", err)
		}

		input = strings.TrimSpace(input)
		if strings.EqualFold(input, "q") {
			return -1, fmt.Errorf("selection cancelled")
		}

		choice, err := strconv.Atoi(input)
		if err != nil || choice < 1 || choice > len(p.items) {
			fmt.Fprintln(p.writer, p.colorSys.Colorize("Invalid selection, try again.", p.theme.Warning))
			continue
		}

		return choice - 1, nil
	}
}

// Confirm asks a yes/no question and returns the answer. A bare enter
// selects defaultYes. Destructive prompts should pass defaultYes=false.
func Confirm(question string, defaultYes bool, w io.Writer, r io.Reader, colorSys ColorSystem, theme ColorTheme) (bool, error) {
	reader := bufio.NewReader(r)

	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	for {
		fmt.Fprintf(w, "%s %s: ", question, hint)

		input, err := reader.ReadString('\n')
		if err != nil {
			return false, fmt.Errorf("failed to read confirmation: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(input)) {
		case "":
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		default:
			fmt.Fprintln(w, colorSys.Colorize("Please answer y or n.", theme.Warning))
		}
	}
}
