//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int checkAccessibilityPermission() {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"context"
	"errors"
	"time"
)

const (
	statusNotDetermined = 0
	statusRestricted    = 1
	statusDenied        = 2
	statusAuthorized    = 3
)

// Microphone asks for microphone access if the user has not decided yet and
// waits for the answer.
func Microphone(ctx context.Context) error {
	status := int(C.checkMicrophonePermission())
	if status == statusNotDetermined {
		C.requestMicrophonePermission()

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for status == statusNotDetermined {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				status = int(C.checkMicrophonePermission())
			}
		}
	}

	switch status {
	case statusAuthorized:
		return nil
	case statusRestricted:
		return errors.New("microphone access is restricted on this Mac")
	default:
		return errors.New("microphone access denied, allow it in System Settings → Privacy & Security → Microphone")
	}
}

// Accessibility checks, and prompts for, the access global hotkeys need.
func Accessibility() error {
	if C.checkAccessibilityPermission() == 1 {
		return nil
	}
	return errors.New("accessibility permission not granted, allow it in System Settings → Privacy & Security → Accessibility")
}
