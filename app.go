package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"pkt.systems/pslog"
)

const wheelLines = 3

// AppOptions configures the full-screen client.
type AppOptions struct {
	Screen       tcell.Screen
	Server       string
	Token        string
	Theme        Theme
	Themes       []Theme
	Toolbar      string
	ToolbarWidth int
	Scrollback   int
	TouchRowPx   float64
	Dialer       Dialer
	Clipboard    ClipboardProvider
	Log          pslog.Logger

	// Registry and ProjectID are set when the session came from the
	// registry, which allows restarting it after it ends.
	Registry  *RegistryClient
	ProjectID string
}

// App hosts one Terminal at a time on a tcell screen. Everything except
// the event pump runs on the loop.
type App struct {
	opts      AppOptions
	ctx       context.Context
	loop      *Loop
	screen    tcell.Screen
	clipboard *Clipboard
	log       pslog.Logger

	term   *Terminal
	handle string
	ended  bool

	observers map[int]func()
	nextObs   int

	buttons     []toolbarButton
	lastButtons tcell.ButtonMask
	dragging    bool
	pasting     bool
	pasteBuf    strings.Builder
}

// NewApp creates an App. The screen is initialized by Run.
func NewApp(opts AppOptions) *App {
	if opts.Log == nil {
		opts.Log = discardLogger()
	}
	if opts.TouchRowPx <= 0 {
		opts.TouchRowPx = defaultTouchRowPx
	}
	if opts.ToolbarWidth <= 0 {
		opts.ToolbarWidth = defaultToolbarWidth
	}
	if len(opts.Themes) == 0 {
		opts.Themes = builtinThemes
	}
	return &App{
		opts:      opts,
		screen:    opts.Screen,
		log:       opts.Log,
		observers: make(map[int]func()),
	}
}

// Run shows handle until the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context, handle string) error {
	if err := a.screen.Init(); err != nil {
		return fmt.Errorf("initialize screen: %w", err)
	}
	defer a.screen.Fini()
	a.screen.EnableMouse(tcell.MouseDragEvents)
	a.screen.EnablePaste()
	a.screen.EnableFocus()
	a.screen.SetStyle(a.opts.Theme.Style())
	a.screen.Clear()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.ctx = ctx
	a.loop = NewLoop(nil)
	a.clipboard = NewClipboard(a.opts.Clipboard, osc52Writer{a.screen}, a.log)

	go a.pumpEvents()
	a.loop.Post(func() { a.Attach(handle) })

	err := a.loop.Run(ctx)
	if a.term != nil {
		a.term.Dispose()
	}
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// pumpEvents moves tcell events onto the loop until the screen is
// finalized.
func (a *App) pumpEvents() {
	for {
		ev := a.screen.PollEvent()
		if ev == nil {
			return
		}
		if !a.loop.Post(func() { a.handleEvent(ev) }) {
			return
		}
	}
}

// Attach replaces the current Terminal with one for handle.
func (a *App) Attach(handle string) {
	if a.term != nil {
		a.term.Dispose()
		a.term = nil
	}
	a.handle = handle
	a.ended = false
	a.layout()

	url, err := ChannelURL(a.opts.Server, handle, a.opts.Token)
	if err != nil {
		a.showError(err)
		return
	}
	surface := newTcellSurface(a.screen, a.region, a.opts.Theme, a.opts.Scrollback, a.log)
	term, err := NewTerminal(a.ctx, TerminalOptions{
		URL:          url,
		Loop:         a.loop,
		Surface:      surface,
		Geometry:     a,
		Dialer:       a.opts.Dialer,
		Clipboard:    a.clipboard,
		Toolbar:      a.toolbarShown,
		Log:          a.log.With("session", handle),
		OnSessionEnd: a.sessionEnded,
	})
	if err != nil {
		surface.Dispose()
		a.showError(err)
		return
	}
	a.term = term
	a.log.Info("session attached", "session", handle)
}

func (a *App) sessionEnded() {
	a.ended = true
	hint := "Press q to quit."
	if a.opts.Registry != nil {
		hint = "Press r to restart the session or q to quit."
	}
	a.term.Surface().WriteStatus(hint + "\r\n")
}

// restart asks the registry for a fresh session and remounts on it.
func (a *App) restart() {
	registry, project := a.opts.Registry, a.opts.ProjectID
	ctx := a.ctx
	go func() {
		handle, err := registry.StartSession(ctx, project)
		a.loop.Post(func() {
			if err != nil {
				a.showError(err)
				return
			}
			a.Attach(handle)
		})
	}()
}

// cycleTheme switches to the next theme on the live surface. The
// session is not touched.
func (a *App) cycleTheme() {
	theme := nextTheme(a.opts.Themes, a.opts.Theme.ID)
	a.opts.Theme = theme
	a.screen.SetStyle(theme.Style())
	a.layout()
	if a.term != nil {
		a.term.SetTheme(theme)
	}
	a.log.Info("theme changed", "theme", theme.ID)
}

func (a *App) showError(err error) {
	a.log.Warn("session error", "err", err)
	if a.term != nil {
		a.term.Surface().WriteStatus(fmt.Sprintf("\r\n\x1b[31m%v\x1b[0m\r\n", err))
		return
	}
	w, h := a.screen.Size()
	drawText(a.screen, 0, h/2, w, err.Error(), a.opts.Theme.Style())
	a.screen.Show()
}

// Observe implements GeometryObserver for surfaces on this screen.
func (a *App) Observe(notify func()) func() {
	id := a.nextObs
	a.nextObs++
	a.observers[id] = notify
	return func() { delete(a.observers, id) }
}

func (a *App) toolbarShown() bool {
	switch a.opts.Toolbar {
	case toolbarAlways:
		return true
	case toolbarNever:
		return false
	}
	w, _ := a.screen.Size()
	return w < a.opts.ToolbarWidth
}

// region is the part of the screen the terminal surface draws into.
func (a *App) region() Box {
	w, h := a.screen.Size()
	if a.toolbarShown() {
		h--
	}
	if h < 0 {
		h = 0
	}
	return Box{Width: w, Height: h}
}

// layout redraws the toolbar row.
func (a *App) layout() {
	w, h := a.screen.Size()
	a.buttons = nil
	if !a.toolbarShown() || h == 0 {
		return
	}
	a.buttons = layoutToolbar(toolbarKeys, w)
	bar := a.opts.Theme.Style().Reverse(true)
	for x := 0; x < w; x++ {
		a.screen.SetContent(x, h-1, ' ', nil, a.opts.Theme.Style())
	}
	for _, b := range a.buttons {
		drawText(a.screen, b.x, h-1, b.w, " "+b.key.Label+" ", bar)
	}
	a.screen.Show()
}

func (a *App) handleEvent(ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		a.screen.Sync()
		a.layout()
		for _, notify := range a.observers {
			notify()
		}
	case *tcell.EventKey:
		a.handleKey(ev)
	case *tcell.EventPaste:
		a.handlePaste(ev)
	case *tcell.EventMouse:
		a.handleMouse(ev)
	case *tcell.EventFocus:
		if a.term == nil {
			return
		}
		if ev.Focused {
			a.term.Surface().Focus()
		} else {
			a.term.Surface().Blur()
		}
	}
}

func (a *App) handleKey(ev *tcell.EventKey) {
	if ev.Key() == tcell.KeyCtrlRightSq {
		a.loop.Stop()
		return
	}
	if ev.Key() == tcell.KeyF12 && ev.Modifiers()&tcell.ModCtrl != 0 {
		a.cycleTheme()
		return
	}
	if a.pasting {
		a.pasteBuf.Write(encodeKey(ev))
		return
	}
	if a.ended || a.term == nil {
		switch {
		case ev.Key() == tcell.KeyRune && ev.Rune() == 'q':
			a.loop.Stop()
		case ev.Key() == tcell.KeyRune && ev.Rune() == 'r' && a.opts.Registry != nil:
			a.restart()
		}
		return
	}
	a.term.Input().Key(ev)
}

// handlePaste collects a bracketed paste and sends it as one message.
func (a *App) handlePaste(ev *tcell.EventPaste) {
	switch {
	case ev.Start():
		a.pasting = true
		a.pasteBuf.Reset()
	case ev.End():
		a.pasting = false
		text := a.pasteBuf.String()
		a.pasteBuf.Reset()
		if a.term != nil {
			a.term.Input().Paste(text)
		}
	}
}

// handleMouse maps the wheel to local scrolling, button-1 drags to touch
// samples, and clicks on the toolbar row to toolbar keys.
func (a *App) handleMouse(ev *tcell.EventMouse) {
	if a.term == nil {
		return
	}
	input := a.term.Input()
	buttons := ev.Buttons()
	pressed := buttons&tcell.Button1 != 0 && a.lastButtons&tcell.Button1 == 0
	a.lastButtons = buttons
	x, y := ev.Position()

	switch {
	case buttons&tcell.WheelUp != 0:
		input.Wheel(-wheelLines)
		return
	case buttons&tcell.WheelDown != 0:
		input.Wheel(wheelLines)
		return
	}

	sample := ScrollSample{At: a.loop.Now(), Y: float64(y) * a.opts.TouchRowPx}
	if buttons&tcell.Button1 == 0 {
		if a.dragging {
			a.dragging = false
			input.TouchEnd()
		}
		return
	}

	_, h := a.screen.Size()
	if pressed && len(a.buttons) > 0 && y == h-1 {
		if key, ok := toolbarHit(a.buttons, x); ok {
			input.SyntheticKey(a.ctx, key)
		}
		return
	}
	if pressed {
		a.term.Surface().Focus()
		a.dragging = true
		input.TouchStart(sample)
		return
	}
	if a.dragging {
		input.TouchMove(sample)
	}
}

func drawText(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	col := 0
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if col+w > width {
			return
		}
		screen.SetContent(x+col, y, r, nil, style)
		col += w
	}
}

// osc52Writer routes OSC 52 clipboard sequences to the tty behind a
// tcell screen when the screen exposes it.
type osc52Writer struct {
	screen tcell.Screen
}

type ttyScreen interface {
	Tty() (tcell.Tty, bool)
}

func (w osc52Writer) Write(p []byte) (int, error) {
	if s, ok := w.screen.(ttyScreen); ok {
		if tty, ok := s.Tty(); ok {
			return tty.Write(p)
		}
	}
	return 0, ErrClipboardUnavailable
}
