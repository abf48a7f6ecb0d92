//go:build !linux && !darwin

package hotkey

import (
	"fmt"
	"runtime"
)

// New reports that global hotkeys are unavailable; the tray Record item still works.
func New() (Manager, error) {
	return nil, fmt.Errorf("global hotkeys are not supported on %s", runtime.GOOS)
}
