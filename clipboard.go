package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/aymanbagabas/go-osc52/v2"
	"pkt.systems/pslog"
)

// ErrClipboardUnavailable means no platform clipboard could be used.
var ErrClipboardUnavailable = errors.New("clipboard unavailable")

// clipboardSlot is the process-wide fallback value: the last text
// copied by any Terminal in this process. It answers reads whenever the
// system clipboard cannot.
var clipboardSlot fallbackSlot

type fallbackSlot struct {
	mu   sync.Mutex
	text string
}

func (s *fallbackSlot) Set(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

func (s *fallbackSlot) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// ClipboardProvider is a platform clipboard.
type ClipboardProvider interface {
	WriteText(ctx context.Context, text string) error
	ReadText(ctx context.Context) (string, error)
}

// Clipboard reads and writes text best-effort. It never fails: writes
// always land in the fallback slot, reads fall back to it.
type Clipboard struct {
	platform ClipboardProvider
	terminal io.Writer // receives OSC 52 when the platform write fails
	slot     *fallbackSlot
	log      pslog.Logger
}

// NewClipboard creates a bridge. platform and terminal may be nil.
func NewClipboard(platform ClipboardProvider, terminal io.Writer, log pslog.Logger) *Clipboard {
	return &Clipboard{
		platform: platform,
		terminal: terminal,
		slot:     &clipboardSlot,
		log:      log,
	}
}

// Write stores text in the fallback slot, then tries the platform
// clipboard and, failing that, asks the host terminal to copy it.
func (c *Clipboard) Write(ctx context.Context, text string) {
	c.slot.Set(text)

	if c.platform != nil {
		err := c.platform.WriteText(ctx, text)
		if err == nil {
			return
		}
		c.log.Debug("platform clipboard write failed", "err", err)
	}
	if c.terminal == nil {
		return
	}
	if _, err := osc52.New(text).WriteTo(c.terminal); err != nil {
		c.log.Debug("osc52 clipboard write failed", "err", err)
	}
}

// Read returns the platform clipboard text, or the fallback slot when
// the platform read fails for any reason.
func (c *Clipboard) Read(ctx context.Context) string {
	if c.platform != nil {
		text, err := c.platform.ReadText(ctx)
		if err == nil {
			return text
		}
		c.log.Debug("platform clipboard read failed", "err", err)
	}
	return c.slot.Get()
}

// clipboardCommand is an external tool pair for the system clipboard.
type clipboardCommand struct {
	copy  []string
	paste []string
}

// commandClipboard talks to the system clipboard through the first
// available tool from platformClipboardCommands.
type commandClipboard struct {
	copy  []string
	paste []string
}

// newCommandClipboard returns nil when no clipboard tool is installed.
func newCommandClipboard() *commandClipboard {
	for _, candidate := range platformClipboardCommands() {
		if _, err := exec.LookPath(candidate.copy[0]); err != nil {
			continue
		}
		if _, err := exec.LookPath(candidate.paste[0]); err != nil {
			continue
		}
		return &commandClipboard{copy: candidate.copy, paste: candidate.paste}
	}
	return nil
}

func (c *commandClipboard) WriteText(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, c.copy[0], c.copy[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s: %v: %s", ErrClipboardUnavailable, c.copy[0], err, bytes.TrimSpace(out))
	}
	return nil
}

func (c *commandClipboard) ReadText(ctx context.Context) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.paste[0], c.paste[1:]...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v: %s", ErrClipboardUnavailable, c.paste[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return string(out), nil
}
