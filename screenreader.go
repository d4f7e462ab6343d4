package main

import (
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
)

// ScreenReader is the screen model behind the tcell surface. A virtual
// terminal interprets the remote output stream (cursor moves, clears,
// alternate screen), and a separate line log keeps what scrolled past
// so the user can scroll back locally.
type ScreenReader struct {
	emu *vt.SafeEmulator

	history    []string
	maxHistory int
	partial    strings.Builder
}

// NewScreenReader creates a screen model with the given dimensions and
// a scrollback of at most maxHistory completed lines.
func NewScreenReader(cols, rows, maxHistory int) *ScreenReader {
	if maxHistory <= 0 {
		maxHistory = defaultScrollback
	}
	return &ScreenReader{
		emu:        vt.NewSafeEmulator(cols, rows),
		maxHistory: maxHistory,
	}
}

// Write feeds raw remote output into the emulator and the line log.
func (sr *ScreenReader) Write(data []byte) (int, error) {
	sr.record(data)
	return sr.emu.Write(data)
}

// WriteString is Write for strings.
func (sr *ScreenReader) WriteString(s string) (int, error) {
	return sr.Write([]byte(s))
}

// record splits output on newlines and keeps every completed line,
// stripped of escape sequences, in the scrollback.
func (sr *ScreenReader) record(data []byte) {
	text := string(data)
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			sr.partial.WriteString(text)
			return
		}
		sr.partial.WriteString(text[:i])
		line := ansi.Strip(sr.partial.String())
		sr.partial.Reset()
		sr.appendHistory(lastCarriageSegment(line))
		text = text[i+1:]
	}
}

func (sr *ScreenReader) appendHistory(line string) {
	sr.history = append(sr.history, line)
	if over := len(sr.history) - sr.maxHistory; over > 0 {
		sr.history = append(sr.history[:0], sr.history[over:]...)
	}
}

// lastCarriageSegment approximates what a carriage return overwrite
// leaves visible: progress bars rewrite the line from column zero.
func lastCarriageSegment(line string) string {
	line = strings.TrimRight(line, "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		return line[i+1:]
	}
	return line
}

// Lines returns the emulator screen row by row, without trimming.
func (sr *ScreenReader) Lines() []string {
	return strings.Split(sr.emu.String(), "\n")
}

// Screen returns the current screen content as plain text. Trailing
// whitespace is trimmed from each line and trailing empty lines are
// removed; this is what Copy puts on the clipboard.
func (sr *ScreenReader) Screen() string {
	lines := sr.Lines()
	lastNonEmpty := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimRight(lines[i], " \t\r") != "" {
			lastNonEmpty = i
			break
		}
	}
	if lastNonEmpty < 0 {
		return ""
	}

	trimmed := make([]string, lastNonEmpty+1)
	for i := 0; i <= lastNonEmpty; i++ {
		trimmed[i] = strings.TrimRight(lines[i], " \t\r")
	}
	return strings.Join(trimmed, "\n")
}

// History returns the completed lines kept for scrollback, oldest first.
func (sr *ScreenReader) History() []string {
	return sr.history
}

// Resize changes the emulator dimensions.
func (sr *ScreenReader) Resize(cols, rows int) {
	sr.emu.Resize(cols, rows)
}

// Replies returns the emulator's answer stream (device attributes,
// cursor reports) when the emulator exposes one.
func (sr *ScreenReader) Replies() io.Reader {
	if r, ok := any(sr.emu).(io.Reader); ok {
		return r
	}
	return nil
}

// Close releases the emulator's answer stream, unblocking Replies readers.
func (sr *ScreenReader) Close() error {
	if c, ok := any(sr.emu).(io.Closer); ok {
		return c.Close()
	}
	return nil
}
