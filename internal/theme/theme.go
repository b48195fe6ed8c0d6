// Package theme holds the HUD palettes selectable per user.
package theme

import "strings"

type Name string

const (
	MK85 Name = "MK_85"
	MK5  Name = "MK_5"
	MK50 Name = "MK_50"
)

type Theme struct {
	Name    Name   `json:"name"`
	Label   string `json:"label"`
	Primary string `json:"primary"`
}

var palettes = []Theme{
	{Name: MK85, Label: "Mark LXXXV", Primary: "#22d3ee"},
	{Name: MK5, Label: "Mark V", Primary: "#ef4444"},
	{Name: MK50, Label: "Mark L", Primary: "#f59e0b"},
}

func Default() Theme {
	return palettes[0]
}

// Lookup resolves a theme name case-insensitively.
func Lookup(name string) (Theme, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, t := range palettes {
		if string(t.Name) == name {
			return t, true
		}
	}
	return Theme{}, false
}

// Resolve returns the named theme, or the default when name is unknown.
func Resolve(name Name) Theme {
	if t, ok := Lookup(string(name)); ok {
		return t
	}
	return Default()
}

func All() []Theme {
	out := make([]Theme, len(palettes))
	copy(out, palettes)
	return out
}
