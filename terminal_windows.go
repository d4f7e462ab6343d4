//go:build windows

package main

import (
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// platformClipboardCommands lists clipboard tools in preference order.
func platformClipboardCommands() []clipboardCommand {
	return []clipboardCommand{
		{
			copy:  []string{"clip.exe"},
			paste: []string{"powershell.exe", "-NoProfile", "-NoLogo", "-Command", "Get-Clipboard -Raw"},
		},
	}
}

// pollInterval is how often the console size is sampled; Windows has no
// SIGWINCH.
const pollInterval = 250 * time.Millisecond

type pollingGeometry struct {
	loop *Loop
}

func newHostGeometry(loop *Loop) GeometryObserver {
	return pollingGeometry{loop: loop}
}

func (g pollingGeometry) Observe(notify func()) func() {
	done := make(chan struct{})
	fd := int(os.Stdout.Fd())

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		lastW, lastH, _ := term.GetSize(fd)
		for {
			select {
			case <-ticker.C:
				w, h, err := term.GetSize(fd)
				if err != nil || (w == lastW && h == lastH) {
					continue
				}
				lastW, lastH = w, h
				g.loop.Post(notify)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
