package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows an animated indicator for long-running steps such as
// dumping a database or replaying binlog segments
type Spinner struct {
	message  string
	active   bool
	writer   io.Writer
	colorSys ColorSystem
	theme    ColorTheme
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.RWMutex
}

// NewSpinner creates a spinner writing to w
func NewSpinner(message string, w io.Writer, colorSys ColorSystem, theme ColorTheme) *Spinner {
	return &Spinner{
		message:  message,
		writer:   w,
		colorSys: colorSys,
		theme:    theme,
	}
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.animate()
}

// Stop terminates the animation, clears the line and prints finalMessage
func (s *Spinner) Stop(finalMessage string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.clearLine()
	if finalMessage != "" {
		fmt.Fprintln(s.writer, finalMessage)
	}
}

// UpdateMessage changes the message shown beside the spinner
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

func (s *Spinner) animate() {
	defer close(s.doneCh)

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	frameIndex := 0

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			if !s.active {
				s.mu.RUnlock()
				return
			}
			frame := spinnerFrames[frameIndex%len(spinnerFrames)]
			message := s.message
			s.mu.RUnlock()

			s.clearLine()
			if s.colorSys.IsColorSupported() {
				frame = s.colorSys.Colorize(frame, s.theme.Highlight)
			}
			fmt.Fprintf(s.writer, "\r%s %s", frame, message)

			frameIndex++
		}
	}
}

func (s *Spinner) clearLine() {
	fmt.Fprint(s.writer, "\r\033[K")
}

// ProgressBar tracks progress over a known number of units, for
// example databases in a multi-database backup run
type ProgressBar struct {
	current  int
	total    int
	message  string
	width    int
	writer   io.Writer
	colorSys ColorSystem
	theme    ColorTheme
	mu       sync.Mutex
}

// NewProgressBar creates a progress bar over total units
func NewProgressBar(total int, message string, w io.Writer, colorSys ColorSystem, theme ColorTheme) *ProgressBar {
	return &ProgressBar{
		total:    total,
		message:  message,
		width:    40,
		writer:   w,
		colorSys: colorSys,
		theme:    theme,
	}
}

// Increment advances the bar by one unit
func (pb *ProgressBar) Increment(message string) {
	pb.mu.Lock()
	pb.current++
	if message != "" {
		pb.message = message
	}
	pb.mu.Unlock()
	pb.render()
}

// Finish completes the bar and moves to the next line
func (pb *ProgressBar) Finish(finalMessage string) {
	pb.mu.Lock()
	pb.current = pb.total
	if finalMessage != "" {
		pb.message = finalMessage
	}
	pb.mu.Unlock()
	pb.render()
	fmt.Fprintln(pb.writer)
}

func (pb *ProgressBar) render() {
	pb.mu.Lock()
	current := pb.current
	total := pb.total
	message := pb.message
	width := pb.width
	pb.mu.Unlock()

	if total <= 0 {
		return
	}

	ratio := float64(current) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * float64(width))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if pb.colorSys.IsColorSupported() {
		bar = pb.colorSys.Colorize(bar, pb.theme.Highlight)
	}

	fmt.Fprintf(pb.writer, "\r\033[K[%s] %3.0f%% %s", bar, ratio*100, message)
}
