//go:build linux

package hotkey

/*
#cgo pkg-config: x11
#include <X11/Xlib.h>
#include <X11/XKBlib.h>
#include <X11/keysym.h>
#include <stdlib.h>

Display* displayPtr = NULL;

static int openDisplay() {
    if (displayPtr == NULL) {
        displayPtr = XOpenDisplay(NULL);
        if (displayPtr == NULL) return 0;
        // Holding the key must not produce release/press pairs.
        XkbSetDetectableAutoRepeat(displayPtr, True, NULL);
    }
    return 1;
}

// grabKey returns the grabbed keycode or 0.
static int grabKey(const char* keysym, unsigned int modifiers) {
    if (!openDisplay()) return 0;

    KeySym sym = XStringToKeysym(keysym);
    if (sym == NoSymbol) return 0;
    KeyCode keycode = XKeysymToKeycode(displayPtr, sym);
    if (keycode == 0) return 0;

    Window root = DefaultRootWindow(displayPtr);
    // Also grab with NumLock and CapsLock engaged
    unsigned int extra[] = {0, Mod2Mask, LockMask, Mod2Mask | LockMask};
    for (int i = 0; i < 4; i++) {
        XGrabKey(displayPtr, keycode, modifiers | extra[i], root, False, GrabModeAsync, GrabModeAsync);
    }
    XSelectInput(displayPtr, root, KeyPressMask | KeyReleaseMask);
    XSync(displayPtr, False);

    return keycode;
}

static void ungrabKey(int keycode, unsigned int modifiers) {
    if (displayPtr == NULL) return;
    Window root = DefaultRootWindow(displayPtr);
    unsigned int extra[] = {0, Mod2Mask, LockMask, Mod2Mask | LockMask};
    for (int i = 0; i < 4; i++) {
        XUngrabKey(displayPtr, keycode, modifiers | extra[i], root);
    }
    XSync(displayPtr, False);
}

static int checkEvent(int* keycode, int* pressed) {
    if (displayPtr == NULL) return 0;

    XEvent event;
    if (XPending(displayPtr) > 0) {
        XNextEvent(displayPtr, &event);
        if (event.type == KeyPress || event.type == KeyRelease) {
            *keycode = event.xkey.keycode;
            *pressed = (event.type == KeyPress) ? 1 : 0;
            return 1;
        }
    }
    return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

type grab struct {
	keycode   int
	modifiers uint
	callback  func(bool)
}

type linuxManager struct {
	mu    sync.Mutex
	grabs map[string]grab // by accelerator string
	stop  chan struct{}
}

// New creates a new Linux hotkey manager using X11
func New() (Manager, error) {
	if C.openDisplay() == 0 {
		return nil, fmt.Errorf("cannot open X display")
	}

	mgr := &linuxManager{
		grabs: make(map[string]grab),
		stop:  make(chan struct{}),
	}

	go mgr.eventLoop()

	return mgr, nil
}

func x11Modifiers(m Modifier) uint {
	var mask uint
	if m&Shift != 0 {
		mask |= 1 // ShiftMask
	}
	if m&Ctrl != 0 {
		mask |= 4 // ControlMask
	}
	if m&Alt != 0 {
		mask |= 8 // Mod1Mask
	}
	if m&Super != 0 {
		mask |= 64 // Mod4Mask
	}
	return mask
}

// x11Keysym maps a canonical key name to its X keysym string.
func x11Keysym(key string) string {
	if len(key) == 1 && key[0] >= 'A' && key[0] <= 'Z' {
		return string(key[0] + ('a' - 'A'))
	}
	if key == "Space" {
		return "space"
	}
	return key
}

func (m *linuxManager) Register(accel string, callback func(pressed bool)) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}

	name := C.CString(x11Keysym(a.Key))
	defer C.free(unsafe.Pointer(name))

	mods := x11Modifiers(a.Modifiers)

	m.mu.Lock()
	defer m.mu.Unlock()

	keycode := int(C.grabKey(name, C.uint(mods)))
	if keycode == 0 {
		return fmt.Errorf("failed to grab %s", a)
	}

	m.grabs[a.String()] = grab{keycode: keycode, modifiers: mods, callback: callback}
	return nil
}

func (m *linuxManager) eventLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			var keycode, pressed C.int
			for C.checkEvent(&keycode, &pressed) != 0 {
				for _, cb := range m.callbacksFor(int(keycode)) {
					cb(pressed == 1)
				}
			}
		}
	}
}

func (m *linuxManager) callbacksFor(keycode int) []func(bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []func(bool)
	for _, g := range m.grabs {
		if g.keycode == keycode {
			out = append(out, g.callback)
		}
	}
	return out
}

func (m *linuxManager) Unregister(accel string) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grabs[a.String()]
	if !ok {
		return fmt.Errorf("%s is not registered", a)
	}
	C.ungrabKey(C.int(g.keycode), C.uint(g.modifiers))
	delete(m.grabs, a.String())
	return nil
}

func (m *linuxManager) Close() error {
	m.mu.Lock()
	for name, g := range m.grabs {
		C.ungrabKey(C.int(g.keycode), C.uint(g.modifiers))
		delete(m.grabs, name)
	}
	m.mu.Unlock()

	close(m.stop)
	return nil
}
