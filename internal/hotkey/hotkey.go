package hotkey

import (
	"fmt"
	"strings"
)

// Manager defines the interface for global hotkey management
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}

type Modifier uint8

const (
	Shift Modifier = 1 << iota
	Ctrl
	Alt
	Super
)

// Accelerator is a parsed combination such as "Ctrl+Shift+R".
type Accelerator struct {
	Modifiers Modifier
	// Key is the canonical key name: an upper-case letter, a digit, "F1".."F12"
	// or one of "Space", "Return", "Tab", "Escape".
	Key string
}

func (a Accelerator) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{Ctrl, "Ctrl"}, {Alt, "Alt"}, {Shift, "Shift"}, {Super, "Super"}} {
		if a.Modifiers&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, a.Key), "+")
}

var modifierNames = map[string]Modifier{
	"shift":   Shift,
	"ctrl":    Ctrl,
	"control": Ctrl,
	"alt":     Alt,
	"option":  Alt,
	"super":   Super,
	"cmd":     Super,
	"command": Super,
	"win":     Super,
}

var namedKeys = map[string]string{
	"space":  "Space",
	"return": "Return",
	"enter":  "Return",
	"tab":    "Tab",
	"escape": "Escape",
	"esc":    "Escape",
}

// Parse reads accelerators like "Alt+Space" or "ctrl + shift + r".
func Parse(accel string) (Accelerator, error) {
	var a Accelerator
	parts := strings.Split(accel, "+")
	for i, raw := range parts {
		part := strings.ToLower(strings.TrimSpace(raw))
		if part == "" {
			return Accelerator{}, fmt.Errorf("invalid accelerator %q", accel)
		}

		if i < len(parts)-1 {
			mod, ok := modifierNames[part]
			if !ok {
				return Accelerator{}, fmt.Errorf("unknown modifier %q in %q", raw, accel)
			}
			a.Modifiers |= mod
			continue
		}

		key, err := parseKey(part)
		if err != nil {
			return Accelerator{}, fmt.Errorf("%w in %q", err, accel)
		}
		a.Key = key
	}
	return a, nil
}

func parseKey(part string) (string, error) {
	if name, ok := namedKeys[part]; ok {
		return name, nil
	}
	if len(part) == 1 && (part[0] >= 'a' && part[0] <= 'z' || part[0] >= '0' && part[0] <= '9') {
		return strings.ToUpper(part), nil
	}
	if len(part) >= 2 && part[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(part[1:], "%d", &n); err == nil && n >= 1 && n <= 12 && fmt.Sprint(n) == part[1:] {
			return "F" + part[1:], nil
		}
	}
	return "", fmt.Errorf("unsupported key %q", part)
}
