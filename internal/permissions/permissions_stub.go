//go:build !darwin

package permissions

import "context"

// Microphone is a no-op on non-macOS platforms; the audio backend reports
// missing devices itself.
func Microphone(ctx context.Context) error {
	return nil
}

// Accessibility is a no-op on non-macOS platforms.
func Accessibility() error {
	return nil
}
