// Package notify shows transient desktop notifications via notify-send.
// Everything here is best effort: a desktop without a notification daemon
// must never break dictation.
package notify

import (
	"fmt"
	"os/exec"
)

// synchronous hint collapses successive voice notifications into one bubble.
const hint = "string:x-canonical-private-synchronous:voice"

// Show displays a notification for roughly two seconds.
func Show(title, body string) {
	cmd := exec.Command("notify-send", title, body, "-t", "2000", "-h", hint)
	_ = cmd.Start()
	if cmd.Process != nil {
		go func() { _ = cmd.Wait() }()
	}
}

// Showf is Show with a formatted body.
func Showf(title, format string, args ...any) {
	Show(title, fmt.Sprintf(format, args...))
}
