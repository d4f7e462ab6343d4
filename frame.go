package main

import (
	"bytes"
	"fmt"
	"strconv"
)

// Control frames share the channel with raw keystrokes. They start with
// a byte from the C0 control range that never shows up in typed or
// pasted text, so anything without the prefix is passed through as-is.
const (
	controlPrefix = 0x01
	resizeVerb    = "RESIZE:"
)

// Geometry is the terminal viewport size in character cells.
type Geometry struct {
	Cols uint16
	Rows uint16
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Cols, g.Rows)
}

// EncodeResize builds the resize control frame: 0x01 "RESIZE:" cols "," rows.
func EncodeResize(g Geometry) []byte {
	buf := make([]byte, 0, 1+len(resizeVerb)+11)
	buf = append(buf, controlPrefix)
	buf = append(buf, resizeVerb...)
	buf = strconv.AppendUint(buf, uint64(g.Cols), 10)
	buf = append(buf, ',')
	buf = strconv.AppendUint(buf, uint64(g.Rows), 10)
	return buf
}

// IsControlFrame reports whether payload carries a control directive
// rather than raw terminal input.
func IsControlFrame(payload []byte) bool {
	return len(payload) > 0 && payload[0] == controlPrefix
}

// DecodeResize parses a resize control frame. The remote end owns this
// direction; the client uses it to inspect what it put on the wire.
func DecodeResize(payload []byte) (Geometry, error) {
	if !IsControlFrame(payload) {
		return Geometry{}, fmt.Errorf("not a control frame")
	}
	body := payload[1:]
	if !bytes.HasPrefix(body, []byte(resizeVerb)) {
		return Geometry{}, fmt.Errorf("unknown control frame %q", body)
	}
	body = body[len(resizeVerb):]

	colsField, rowsField, ok := bytes.Cut(body, []byte{','})
	if !ok {
		return Geometry{}, fmt.Errorf("resize frame missing separator: %q", body)
	}
	cols, err := parseDimension(colsField)
	if err != nil {
		return Geometry{}, fmt.Errorf("resize columns: %w", err)
	}
	rows, err := parseDimension(rowsField)
	if err != nil {
		return Geometry{}, fmt.Errorf("resize rows: %w", err)
	}
	return Geometry{Cols: cols, Rows: rows}, nil
}

func parseDimension(field []byte) (uint16, error) {
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid digit in %q", field)
		}
	}
	n, err := strconv.ParseUint(string(field), 10, 16)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("dimension must be positive")
	}
	return uint16(n), nil
}
