package main

import (
	"errors"
	"image"
	"io"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"pkt.systems/pslog"
)

// ErrGeometryUnavailable means the surface has no box to measure yet
// (not mounted, zero-sized, or already disposed).
var ErrGeometryUnavailable = errors.New("surface geometry unavailable")

// Surface is the rendering capability the engine drives. It interprets
// the remote output itself; the engine only produces bytes into it and
// asks it for its size.
type Surface interface {
	io.Writer

	// WriteStatus appends a local status line (never sent remotely).
	WriteStatus(line string)

	// Fit recomputes rows and columns from the current box and applies
	// them to the screen model.
	Fit() (Geometry, error)

	// ScrollLines scrolls the local view; positive n moves toward the
	// newest output.
	ScrollLines(n int)

	SetTheme(theme Theme)

	Focus()
	Blur()
	Focused() bool

	// ScreenText returns the visible screen as plain text.
	ScreenText() string

	// Replies returns the stream of answers the screen model generates
	// for the remote program (nil if it has none).
	Replies() io.Reader

	Disposed() bool
	Dispose()
}

// Box is a rectangle in device units.
type Box struct {
	X, Y          int
	Width, Height int
}

// CellMetrics is the size of one character cell in device units.
type CellMetrics struct {
	Width, Height int
}

// Smallest geometry handed to the remote side, as the browser fit
// addon does.
const (
	minFitCols = 2
	minFitRows = 1
)

// fitGeometry converts a box and cell size into terminal dimensions.
func fitGeometry(box Box, cell CellMetrics) (Geometry, error) {
	if box.Width <= 0 || box.Height <= 0 || cell.Width <= 0 || cell.Height <= 0 {
		return Geometry{}, ErrGeometryUnavailable
	}
	cols := clampDimension(box.Width/cell.Width, minFitCols)
	rows := clampDimension(box.Height/cell.Height, minFitRows)
	return Geometry{Cols: cols, Rows: rows}, nil
}

func clampDimension(n, minimum int) uint16 {
	if n < minimum {
		n = minimum
	}
	if n > 0xffff {
		n = 0xffff
	}
	return uint16(n)
}

// tcellSurface renders a ScreenReader into a region of a tcell screen.
// A terminal cell is one device unit, so the region box maps 1:1 to
// columns and rows.
type tcellSurface struct {
	screen tcell.Screen
	region func() Box
	reader *ScreenReader
	log    pslog.Logger

	geometry     Geometry
	theme        Theme
	scrollOffset int
	focused      bool
	disposed     bool
}

var tcellCell = CellMetrics{Width: 1, Height: 1}

// newTcellSurface creates a surface drawing into region of screen.
// The initial model size is taken from the region; Fit adjusts it.
func newTcellSurface(screen tcell.Screen, region func() Box, theme Theme, scrollback int, log pslog.Logger) *tcellSurface {
	geometry, err := fitGeometry(region(), tcellCell)
	if err != nil {
		geometry = Geometry{Cols: 80, Rows: 24}
	}
	return &tcellSurface{
		screen:   screen,
		region:   region,
		reader:   NewScreenReader(int(geometry.Cols), int(geometry.Rows), scrollback),
		log:      log,
		geometry: geometry,
		theme:    theme,
		focused:  true,
	}
}

func (s *tcellSurface) Write(p []byte) (int, error) {
	if s.disposed {
		return len(p), nil
	}
	if _, err := s.reader.Write(p); err != nil {
		return 0, err
	}
	s.render()
	return len(p), nil
}

func (s *tcellSurface) WriteStatus(line string) {
	s.Write([]byte(line))
}

func (s *tcellSurface) Fit() (Geometry, error) {
	if s.disposed {
		return Geometry{}, ErrGeometryUnavailable
	}
	geometry, err := fitGeometry(s.region(), tcellCell)
	if err != nil {
		return Geometry{}, err
	}
	if geometry != s.geometry {
		s.reader.Resize(int(geometry.Cols), int(geometry.Rows))
		s.geometry = geometry
		s.log.Debug("surface fitted", "cols", geometry.Cols, "rows", geometry.Rows)
	}
	s.render()
	return geometry, nil
}

func (s *tcellSurface) ScrollLines(n int) {
	if s.disposed || n == 0 {
		return
	}
	offset := s.scrollOffset - n
	maxOffset := len(s.reader.History()) - int(s.geometry.Rows)
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		offset = maxOffset
	}
	if offset < 0 {
		offset = 0
	}
	if offset == s.scrollOffset {
		return
	}
	s.scrollOffset = offset
	s.render()
}

// ScrollOffset is how many lines the view sits above the live screen.
func (s *tcellSurface) ScrollOffset() int { return s.scrollOffset }

func (s *tcellSurface) SetTheme(theme Theme) {
	s.theme = theme
	s.render()
}

func (s *tcellSurface) Focus() {
	s.focused = true
	s.render()
}

func (s *tcellSurface) Blur() {
	s.focused = false
	s.render()
}

func (s *tcellSurface) Focused() bool { return s.focused && !s.disposed }

func (s *tcellSurface) ScreenText() string { return s.reader.Screen() }

func (s *tcellSurface) Replies() io.Reader { return s.reader.Replies() }

func (s *tcellSurface) Disposed() bool { return s.disposed }

// Dispose stops rendering, releases the screen model and blanks the
// region. The tcell screen itself belongs to the host.
func (s *tcellSurface) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.reader.Close()

	box := s.region()
	for y := 0; y < box.Height; y++ {
		for x := 0; x < box.Width; x++ {
			s.screen.SetContent(box.X+x, box.Y+y, ' ', nil, tcell.StyleDefault)
		}
	}
	s.screen.HideCursor()
	s.screen.Show()
}

// visibleLines returns the rows to draw: the live emulator screen, or a
// window into the scrollback when the user has scrolled up.
func (s *tcellSurface) visibleLines() []string {
	rows := int(s.geometry.Rows)
	if s.scrollOffset == 0 {
		return s.reader.Lines()
	}
	history := s.reader.History()
	end := len(history) - s.scrollOffset
	start := end - rows
	lines := make([]string, rows)
	for i := range lines {
		if idx := start + i; idx >= 0 && idx < end {
			lines[i] = history[idx]
		}
	}
	return lines
}

func (s *tcellSurface) render() {
	if s.disposed {
		return
	}
	box := s.region()
	if box.Width <= 0 || box.Height <= 0 {
		return
	}

	style := s.theme.Style()
	lines := s.visibleLines()
	for y := 0; y < box.Height; y++ {
		line := ""
		if y < len(lines) {
			line = lines[y]
		}
		x := 0
		for _, r := range line {
			width := runewidth.RuneWidth(r)
			if width == 0 {
				continue
			}
			if x+width > box.Width {
				break
			}
			s.screen.SetContent(box.X+x, box.Y+y, r, nil, style)
			x += width
		}
		for ; x < box.Width; x++ {
			s.screen.SetContent(box.X+x, box.Y+y, ' ', nil, style)
		}
	}

	s.placeCursor(box)
	s.screen.Show()
}

type cursorStyler interface {
	SetCursorStyle(tcell.CursorStyle, ...tcell.Color)
}

type cursorReporter interface {
	CursorPosition() image.Point
}

func (s *tcellSurface) placeCursor(box Box) {
	if !s.focused || s.scrollOffset != 0 {
		s.screen.HideCursor()
		return
	}
	if styler, ok := s.screen.(cursorStyler); ok {
		styler.SetCursorStyle(tcell.CursorStyleSteadyBlock, s.theme.CursorColor())
	}
	reporter, ok := any(s.reader.emu).(cursorReporter)
	if !ok {
		s.screen.HideCursor()
		return
	}
	pos := reporter.CursorPosition()
	if pos.X < 0 || pos.Y < 0 || pos.X >= box.Width || pos.Y >= box.Height {
		s.screen.HideCursor()
		return
	}
	s.screen.ShowCursor(box.X+pos.X, box.Y+pos.Y)
}
