//go:build !windows

package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// platformClipboardCommands lists clipboard tools in preference order.
func platformClipboardCommands() []clipboardCommand {
	commands := []clipboardCommand{
		{copy: []string{"pbcopy"}, paste: []string{"pbpaste"}},
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		commands = append(commands, clipboardCommand{
			copy:  []string{"wl-copy"},
			paste: []string{"wl-paste", "--no-newline"},
		})
	}
	return append(commands,
		clipboardCommand{
			copy:  []string{"xclip", "-selection", "clipboard"},
			paste: []string{"xclip", "-selection", "clipboard", "-o"},
		},
		clipboardCommand{
			copy:  []string{"xsel", "--clipboard", "--input"},
			paste: []string{"xsel", "--clipboard", "--output"},
		},
	)
}

// signalGeometry reports host window size changes via SIGWINCH.
type signalGeometry struct {
	loop *Loop
}

func newHostGeometry(loop *Loop) GeometryObserver {
	return signalGeometry{loop: loop}
}

func (g signalGeometry) Observe(notify func()) func() {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-winch:
				g.loop.Post(notify)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(winch)
			close(done)
		})
	}
}
