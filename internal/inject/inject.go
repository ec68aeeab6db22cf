// Package inject is the text-injection sink: it types or pastes transcribed
// text into the focused application via robotgo. Injection is fire and
// forget from the session's point of view; a failure here is reported but
// never fails the command that produced the text.
package inject

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"
)

// Injector delivers text to the active application.
type Injector struct {
	method string // "type" or "paste"
}

// NewInjector creates an Injector with the given method.
// method must be "type" (keystroke simulation) or "paste" (clipboard).
func NewInjector(method string) *Injector {
	return &Injector{method: method}
}

// Inject sends text to the active application using the configured method.
// Empty text is a no-op.
func (inj *Injector) Inject(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Give the compositor a moment to refocus after the triggering
	// keystroke is released.
	time.Sleep(30 * time.Millisecond)

	switch inj.method {
	case "paste":
		return inj.paste(text)
	default: // "type"
		return inj.typeText(text)
	}
}

// typeText simulates individual keystrokes. Preserves clipboard contents
// but is slower for long text.
func (inj *Injector) typeText(text string) error {
	robotgo.Type(text)
	return nil
}

// paste routes the text through the clipboard and sends the platform paste
// chord. Faster for long text; the previous clipboard is restored best
// effort.
func (inj *Injector) paste(text string) error {
	prev, _ := robotgo.ReadAll()

	if err := robotgo.WriteAll(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}

	mod := "ctrl"
	if runtime.GOOS == "darwin" {
		mod = "cmd"
	}
	if err := robotgo.KeyTap("v", mod); err != nil {
		return fmt.Errorf("inject: key tap %s+v: %w", mod, err)
	}

	_ = robotgo.WriteAll(prev)

	return nil
}
