//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework Carbon
#include <Carbon/Carbon.h>

// Forward declaration for Go callback
extern void goHotkeyCallback(int id, int pressed);

static EventHandlerRef handlerRef = NULL;

// Event handler for hotkeys
static OSStatus hotkeyHandler(EventHandlerCallRef nextHandler, EventRef theEvent, void* userData) {
    EventHotKeyID hkID;
    GetEventParameter(theEvent, kEventParamDirectObject, typeEventHotKeyID, NULL, sizeof(hkID), NULL, &hkID);

    UInt32 eventKind = GetEventKind(theEvent);
    int pressed = (eventKind == kEventHotKeyPressed) ? 1 : 0;

    goHotkeyCallback((int)hkID.id, pressed);

    return noErr;
}

static void installHandler() {
    if (handlerRef != NULL) return;

    EventTypeSpec eventTypes[2];
    eventTypes[0].eventClass = kEventClassKeyboard;
    eventTypes[0].eventKind = kEventHotKeyPressed;
    eventTypes[1].eventClass = kEventClassKeyboard;
    eventTypes[1].eventKind = kEventHotKeyReleased;

    InstallApplicationEventHandler(NewEventHandlerUPP(hotkeyHandler), 2, eventTypes, NULL, &handlerRef);
}

// Register hotkey with Carbon; returns the ref or NULL.
static EventHotKeyRef registerHotkey(UInt32 keyCode, UInt32 modifiers, UInt32 id) {
    installHandler();

    EventHotKeyRef hotKeyRef = NULL;
    EventHotKeyID hotKeyID;
    hotKeyID.signature = 'clpd';
    hotKeyID.id = id;

    OSStatus status = RegisterEventHotKey(keyCode, modifiers, hotKeyID, GetApplicationEventTarget(), 0, &hotKeyRef);

    return (status == noErr) ? hotKeyRef : NULL;
}

static void unregisterHotkey(EventHotKeyRef ref) {
    UnregisterEventHotKey(ref);
}
*/
import "C"

import (
	"fmt"
	"sync"
)

// Carbon virtual key codes (kVK_ANSI_*).
var darwinKeyCodes = map[string]uint32{
	"A": 0, "S": 1, "D": 2, "F": 3, "H": 4, "G": 5, "Z": 6, "X": 7, "C": 8, "V": 9,
	"B": 11, "Q": 12, "W": 13, "E": 14, "R": 15, "Y": 16, "T": 17,
	"1": 18, "2": 19, "3": 20, "4": 21, "6": 22, "5": 23, "9": 25, "7": 26, "8": 28, "0": 29,
	"O": 31, "U": 32, "I": 34, "P": 35, "L": 37, "J": 38, "K": 40, "N": 45, "M": 46,
	"Return": 36, "Tab": 48, "Space": 49, "Escape": 53,
	"F1": 122, "F2": 120, "F3": 99, "F4": 118, "F5": 96, "F6": 97,
	"F7": 98, "F8": 100, "F9": 101, "F10": 109, "F11": 103, "F12": 111,
}

func carbonModifiers(m Modifier) uint32 {
	var mask uint32
	if m&Super != 0 {
		mask |= 0x100 // cmdKey
	}
	if m&Shift != 0 {
		mask |= 0x200 // shiftKey
	}
	if m&Alt != 0 {
		mask |= 0x800 // optionKey
	}
	if m&Ctrl != 0 {
		mask |= 0x1000 // controlKey
	}
	return mask
}

type darwinHotkey struct {
	ref      C.EventHotKeyRef
	callback func(bool)
}

type darwinManager struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]*darwinHotkey
	byName map[string]int
}

// Carbon delivers events to a C callback without user data, so the active
// manager is reachable from there only through this variable.
var (
	globalMu      sync.Mutex
	globalManager *darwinManager
)

// New creates a new macOS hotkey manager using Carbon
func New() (Manager, error) {
	mgr := &darwinManager{
		nextID: 1,
		byID:   make(map[int]*darwinHotkey),
		byName: make(map[string]int),
	}
	globalMu.Lock()
	globalManager = mgr
	globalMu.Unlock()
	return mgr, nil
}

//export goHotkeyCallback
func goHotkeyCallback(id C.int, pressed C.int) {
	globalMu.Lock()
	mgr := globalManager
	globalMu.Unlock()
	if mgr == nil {
		return
	}

	mgr.mu.Lock()
	hk := mgr.byID[int(id)]
	mgr.mu.Unlock()

	if hk != nil && hk.callback != nil {
		hk.callback(pressed == 1)
	}
}

func (m *darwinManager) Register(accel string, callback func(pressed bool)) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}
	keyCode, ok := darwinKeyCodes[a.Key]
	if !ok {
		return fmt.Errorf("key %s has no macOS key code", a.Key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	ref := C.registerHotkey(C.UInt32(keyCode), C.UInt32(carbonModifiers(a.Modifiers)), C.UInt32(id))
	if ref == nil {
		return fmt.Errorf("failed to register hotkey %s", a)
	}
	m.nextID++
	m.byID[id] = &darwinHotkey{ref: ref, callback: callback}
	m.byName[a.String()] = id

	return nil
}

func (m *darwinManager) Unregister(accel string) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byName[a.String()]
	if !ok {
		return fmt.Errorf("%s is not registered", a)
	}
	C.unregisterHotkey(m.byID[id].ref)
	delete(m.byID, id)
	delete(m.byName, a.String())
	return nil
}

func (m *darwinManager) Close() error {
	m.mu.Lock()
	for id, hk := range m.byID {
		C.unregisterHotkey(hk.ref)
		delete(m.byID, id)
	}
	m.byName = make(map[string]int)
	m.mu.Unlock()

	globalMu.Lock()
	if globalManager == m {
		globalManager = nil
	}
	globalMu.Unlock()
	return nil
}
