package main

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"pkt.systems/pslog"
)

type toolbarAction int

const (
	actionSend toolbarAction = iota
	actionPaste
	actionCopy
)

// ToolbarKey is one on-screen button. Send keys carry fixed bytes; the
// paste and copy buttons go through the clipboard instead.
type ToolbarKey struct {
	Label  string
	Data   []byte
	Action toolbarAction
}

var toolbarKeys = []ToolbarKey{
	{Label: "Tab", Data: []byte("\t")},
	{Label: "Ctrl+C", Data: []byte("\x03")},
	{Label: "Ctrl+D", Data: []byte("\x04")},
	{Label: "Esc", Data: []byte("\x1b")},
	{Label: "↑", Data: []byte("\x1b[A")},
	{Label: "↓", Data: []byte("\x1b[B")},
	{Label: "←", Data: []byte("\x1b[D")},
	{Label: "→", Data: []byte("\x1b[C")},
	{Label: "Enter", Data: []byte("\r")},
	{Label: "Del", Data: []byte("\x1b[3~")},
	{Label: "Paste", Action: actionPaste},
	{Label: "Copy", Action: actionCopy},
}

// scrollToLive is large enough to bring any scrollback view back to the
// live screen.
const scrollToLive = 1 << 30

// Multiplexer merges every local input source into the connection.
// Touch and wheel only scroll locally and are never sent. Methods run
// on the loop.
type Multiplexer struct {
	loop      *Loop
	surface   Surface
	conn      func() *Connection
	scroller  *InertialScroller
	clipboard *Clipboard
	toolbar   func() bool
	log       pslog.Logger
}

// MultiplexerOptions wires a Multiplexer. Toolbar reports whether the
// toolbar is currently shown; nil means never.
type MultiplexerOptions struct {
	Loop      *Loop
	Surface   Surface
	Conn      func() *Connection
	Scroller  *InertialScroller
	Clipboard *Clipboard
	Toolbar   func() bool
	Log       pslog.Logger
}

func NewMultiplexer(opts MultiplexerOptions) *Multiplexer {
	if opts.Toolbar == nil {
		opts.Toolbar = func() bool { return false }
	}
	return &Multiplexer{
		loop:      opts.Loop,
		surface:   opts.Surface,
		conn:      opts.Conn,
		scroller:  opts.Scroller,
		clipboard: opts.Clipboard,
		toolbar:   opts.Toolbar,
		log:       opts.Log,
	}
}

func (m *Multiplexer) send(data []byte) bool {
	conn := m.conn()
	if conn == nil {
		return false
	}
	return conn.Send(data)
}

// Keyboard forwards typed bytes when the surface has focus.
func (m *Multiplexer) Keyboard(data []byte) bool {
	if !m.surface.Focused() || len(data) == 0 {
		return false
	}
	if !m.send(data) {
		return false
	}
	m.scroller.Stop()
	m.surface.ScrollLines(scrollToLive)
	return true
}

// Key encodes a tcell key event and forwards it as keyboard input.
func (m *Multiplexer) Key(ev *tcell.EventKey) bool {
	data := encodeKey(ev)
	if data == nil {
		return false
	}
	return m.Keyboard(data)
}

// SyntheticKey handles a toolbar button press. Focus is handed back to
// the surface afterwards so typing continues where it left off.
func (m *Multiplexer) SyntheticKey(ctx context.Context, key ToolbarKey) bool {
	if !m.toolbar() {
		return false
	}
	defer m.surface.Focus()

	switch key.Action {
	case actionPaste:
		m.PasteFromClipboard(ctx)
		return true
	case actionCopy:
		m.CopyScreen(ctx)
		return true
	default:
		return m.send(key.Data)
	}
}

// Paste sends pasted text as one message, unmodified. Empty pastes send
// nothing.
func (m *Multiplexer) Paste(text string) bool {
	if text == "" {
		return false
	}
	return m.send([]byte(text))
}

// PasteFromClipboard reads the clipboard off the loop and pastes the
// result once it arrives.
func (m *Multiplexer) PasteFromClipboard(ctx context.Context) {
	go func() {
		text := m.clipboard.Read(ctx)
		m.loop.Post(func() {
			if m.surface.Disposed() {
				return
			}
			m.Paste(text)
		})
	}()
}

// CopyScreen puts the visible screen text on the clipboard.
func (m *Multiplexer) CopyScreen(ctx context.Context) {
	text := m.surface.ScreenText()
	if text == "" {
		return
	}
	go m.clipboard.Write(ctx, text)
}

func (m *Multiplexer) TouchStart(sample ScrollSample) { m.scroller.Start(sample) }
func (m *Multiplexer) TouchMove(sample ScrollSample)  { m.scroller.Move(sample) }
func (m *Multiplexer) TouchEnd()                      { m.scroller.End() }

// Wheel scrolls the local view; positive lines move toward newer output.
func (m *Multiplexer) Wheel(lines int) {
	m.scroller.Stop()
	m.surface.ScrollLines(lines)
}

// Reply forwards answers generated by the local screen model (device
// attributes, cursor reports). Focus does not matter for these.
func (m *Multiplexer) Reply(data []byte) bool {
	return m.send(data)
}

// encodeKey translates a key event into the bytes an xterm would send.
// It returns nil for keys with no terminal encoding.
func encodeKey(ev *tcell.EventKey) []byte {
	mods := ev.Modifiers()
	alt := mods&tcell.ModAlt != 0

	if ev.Key() == tcell.KeyRune {
		r := ev.Rune()
		buf := make([]byte, 0, utf8.UTFMax+1)
		if alt {
			buf = append(buf, 0x1b)
		}
		return utf8.AppendRune(buf, r)
	}

	if seq, ok := cursorKeys[ev.Key()]; ok {
		if m := xtermModifier(mods); m > 1 {
			return []byte(fmt.Sprintf("\x1b[1;%d%c", m, seq))
		}
		return []byte{0x1b, '[', seq}
	}
	if code, ok := tildeKeys[ev.Key()]; ok {
		if m := xtermModifier(mods); m > 1 {
			return []byte(fmt.Sprintf("\x1b[%d;%d~", code, m))
		}
		return []byte(fmt.Sprintf("\x1b[%d~", code))
	}

	switch ev.Key() {
	case tcell.KeyBacktab:
		return []byte("\x1b[Z")
	case tcell.KeyF1:
		return []byte("\x1bOP")
	case tcell.KeyF2:
		return []byte("\x1bOQ")
	case tcell.KeyF3:
		return []byte("\x1bOR")
	case tcell.KeyF4:
		return []byte("\x1bOS")
	}

	// tcell folds DEL into Backspace (0x08); xterm sends DEL unless Ctrl
	// is held.
	if ev.Key() == tcell.KeyBackspace && mods&tcell.ModCtrl == 0 {
		if alt {
			return []byte{0x1b, 0x7f}
		}
		return []byte{0x7f}
	}

	// C0 controls (Ctrl+letter, Enter, Tab, Esc) map to their own code.
	if k := ev.Key(); (k >= 0 && k < 0x20) || k == tcell.KeyDEL {
		if alt {
			return []byte{0x1b, byte(k)}
		}
		return []byte{byte(k)}
	}
	return nil
}

var cursorKeys = map[tcell.Key]byte{
	tcell.KeyUp:    'A',
	tcell.KeyDown:  'B',
	tcell.KeyRight: 'C',
	tcell.KeyLeft:  'D',
	tcell.KeyHome:  'H',
	tcell.KeyEnd:   'F',
}

var tildeKeys = map[tcell.Key]int{
	tcell.KeyInsert: 2,
	tcell.KeyDelete: 3,
	tcell.KeyPgUp:   5,
	tcell.KeyPgDn:   6,
	tcell.KeyF5:     15,
	tcell.KeyF6:     17,
	tcell.KeyF7:     18,
	tcell.KeyF8:     19,
	tcell.KeyF9:     20,
	tcell.KeyF10:    21,
	tcell.KeyF11:    23,
	tcell.KeyF12:    24,
}

// xtermModifier returns the xterm modifier parameter (1 means none).
func xtermModifier(mods tcell.ModMask) int {
	m := 1
	if mods&tcell.ModShift != 0 {
		m++
	}
	if mods&tcell.ModAlt != 0 {
		m += 2
	}
	if mods&tcell.ModCtrl != 0 {
		m += 4
	}
	return m
}

// toolbarButton is a laid-out toolbar key.
type toolbarButton struct {
	key  ToolbarKey
	x, w int
}

// layoutToolbar places the keys left to right as " label " cells,
// dropping those that do not fit in width.
func layoutToolbar(keys []ToolbarKey, width int) []toolbarButton {
	buttons := make([]toolbarButton, 0, len(keys))
	x := 0
	for _, key := range keys {
		w := runewidth.StringWidth(key.Label) + 2
		if x+w > width {
			break
		}
		buttons = append(buttons, toolbarButton{key: key, x: x, w: w})
		x += w + 1
	}
	return buttons
}

// toolbarHit returns the button under column x.
func toolbarHit(buttons []toolbarButton, x int) (ToolbarKey, bool) {
	for _, b := range buttons {
		if x >= b.x && x < b.x+b.w {
			return b.key, true
		}
	}
	return ToolbarKey{}, false
}
