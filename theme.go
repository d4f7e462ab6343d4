package main

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
)

// Theme is the terminal color set shared with the rest of the UI. It can
// be swapped on a live surface without reconnecting.
type Theme struct {
	ID         string `mapstructure:"id" yaml:"id"`
	Name       string `mapstructure:"name" yaml:"name"`
	Background string `mapstructure:"background" yaml:"background"`
	Foreground string `mapstructure:"foreground" yaml:"foreground"`
	Cursor     string `mapstructure:"cursor" yaml:"cursor"`
}

var builtinThemes = []Theme{
	{ID: "catppuccin-mocha", Name: "Catppuccin Mocha", Background: "#1e1e2e", Foreground: "#cdd6f4", Cursor: "#f5e0dc"},
	{ID: "catppuccin-latte", Name: "Catppuccin Latte", Background: "#eff1f5", Foreground: "#4c4f69", Cursor: "#dc8a78"},
	{ID: "dracula", Name: "Dracula", Background: "#282a36", Foreground: "#f8f8f2", Cursor: "#f8f8f2"},
}

// defaultTheme is used when no theme is configured or the id is unknown.
var defaultTheme = builtinThemes[0]

// LookupTheme returns the built-in theme with the given id, falling back
// to the default theme for unknown ids.
func LookupTheme(id string) Theme {
	if theme, ok := findTheme(builtinThemes, id); ok {
		return theme
	}
	return defaultTheme
}

func findTheme(themes []Theme, id string) (Theme, bool) {
	for _, theme := range themes {
		if strings.EqualFold(theme.ID, id) {
			return theme, true
		}
	}
	return Theme{}, false
}

// themeCatalog returns the built-in themes followed by custom ones. A
// custom theme with a built-in id replaces it in place.
func themeCatalog(custom []Theme) []Theme {
	themes := append([]Theme(nil), builtinThemes...)
	for _, theme := range custom {
		replaced := false
		for i := range themes {
			if strings.EqualFold(themes[i].ID, theme.ID) {
				themes[i] = theme
				replaced = true
				break
			}
		}
		if !replaced {
			themes = append(themes, theme)
		}
	}
	return themes
}

// nextTheme returns the theme after current in themes, wrapping around.
func nextTheme(themes []Theme, current string) Theme {
	if len(themes) == 0 {
		return defaultTheme
	}
	for i, theme := range themes {
		if strings.EqualFold(theme.ID, current) {
			return themes[(i+1)%len(themes)]
		}
	}
	return themes[0]
}

// Validate checks that the theme has an id and every color parses.
func (t Theme) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("theme %q: id is required", t.Name)
	}
	for name, value := range map[string]string{
		"background": t.Background,
		"foreground": t.Foreground,
		"cursor":     t.Cursor,
	} {
		if tcell.GetColor(value) == tcell.ColorDefault {
			return fmt.Errorf("theme %s: invalid %s color %q", t.ID, name, value)
		}
	}
	return nil
}

// Style returns the base cell style for the theme.
func (t Theme) Style() tcell.Style {
	return tcell.StyleDefault.
		Background(tcell.GetColor(t.Background)).
		Foreground(tcell.GetColor(t.Foreground))
}

// CursorColor returns the cursor color for the theme.
func (t Theme) CursorColor() tcell.Color {
	return tcell.GetColor(t.Cursor)
}
