package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
	"pkt.systems/pslog"
)

// quitByte is Ctrl+], the escape key of telnet and friends.
const quitByte = 0x1d

// rawSurface hands the remote output straight to the host terminal. The
// host does the emulation and keeps the scrollback, so there is no
// screen model here.
type rawSurface struct {
	out io.Writer
	fd  int
	log pslog.Logger

	theme    Theme
	focused  bool
	disposed bool
}

func newRawSurface(out io.Writer, fd int, theme Theme, log pslog.Logger) *rawSurface {
	s := &rawSurface{out: out, fd: fd, log: log, focused: true}
	s.SetTheme(theme)
	return s
}

func (s *rawSurface) Write(p []byte) (int, error) {
	if s.disposed {
		return len(p), nil
	}
	return s.out.Write(p)
}

func (s *rawSurface) WriteStatus(line string) {
	s.Write([]byte(line))
}

func (s *rawSurface) Fit() (Geometry, error) {
	if s.disposed {
		return Geometry{}, ErrGeometryUnavailable
	}
	width, height, err := term.GetSize(s.fd)
	if err != nil {
		return Geometry{}, fmt.Errorf("%w: %v", ErrGeometryUnavailable, err)
	}
	return fitGeometry(Box{Width: width, Height: height}, tcellCell)
}

func (s *rawSurface) ScrollLines(int) {}

// SetTheme recolors the host terminal with the OSC 10/11/12 dynamic
// color sequences.
func (s *rawSurface) SetTheme(theme Theme) {
	s.theme = theme
	if s.disposed {
		return
	}
	fmt.Fprintf(s.out, "\x1b]10;%s\x07\x1b]11;%s\x07\x1b]12;%s\x07",
		theme.Foreground, theme.Background, theme.Cursor)
}

func (s *rawSurface) Focus()        { s.focused = true }
func (s *rawSurface) Blur()         { s.focused = false }
func (s *rawSurface) Focused() bool { return s.focused && !s.disposed }

func (s *rawSurface) ScreenText() string { return "" }
func (s *rawSurface) Replies() io.Reader { return nil }
func (s *rawSurface) Disposed() bool     { return s.disposed }

// Dispose resets the dynamic colors. The tty mode belongs to RunRaw.
func (s *rawSurface) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	io.WriteString(s.out, "\x1b]110\x07\x1b]111\x07\x1b]112\x07")
}

// RawOptions configures RunRaw.
type RawOptions struct {
	URL       string
	Theme     Theme
	Dialer    Dialer
	Clipboard ClipboardProvider
	Log       pslog.Logger
}

// RunRaw attaches the host tty to the session without a UI: the tty is
// put in raw mode, keystrokes are forwarded verbatim and output is
// written through. Ctrl+] detaches.
func RunRaw(ctx context.Context, opts RawOptions) error {
	in := int(os.Stdin.Fd())
	out := int(os.Stdout.Fd())
	if !term.IsTerminal(in) || !term.IsTerminal(out) {
		return fmt.Errorf("raw mode needs an interactive terminal")
	}
	state, err := term.MakeRaw(in)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(in, state)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := NewLoop(nil)
	surface := newRawSurface(os.Stdout, out, opts.Theme, opts.Log)
	terminal, err := NewTerminal(ctx, TerminalOptions{
		URL:          opts.URL,
		Loop:         loop,
		Surface:      surface,
		Geometry:     newHostGeometry(loop),
		Dialer:       opts.Dialer,
		Clipboard:    NewClipboard(opts.Clipboard, os.Stdout, opts.Log),
		Log:          opts.Log,
		OnSessionEnd: loop.Stop,
	})
	if err != nil {
		return err
	}

	go pumpRawInput(os.Stdin, loop, terminal)

	err = loop.Run(ctx)
	terminal.Dispose()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// pumpRawInput forwards stdin to the terminal until Ctrl+] or EOF.
func pumpRawInput(r io.Reader, loop *Loop, terminal *Terminal) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			quit := false
			if i := bytes.IndexByte(data, quitByte); i >= 0 {
				data = data[:i]
				quit = true
			}
			if len(data) > 0 {
				loop.Post(func() { terminal.Input().Keyboard(data) })
			}
			if quit {
				loop.Stop()
				return
			}
		}
		if err != nil {
			loop.Stop()
			return
		}
	}
}
