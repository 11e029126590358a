// Package inject delivers transcribed text to the desktop using robotgo:
// simulated keystrokes, a clipboard paste, or a plain clipboard copy.
package inject

import (
	"fmt"
	"runtime"

	"github.com/go-vgo/robotgo"
)

// Delivery methods.
const (
	MethodType  = "type"
	MethodPaste = "paste"
	MethodCopy  = "copy"
)

// TextInjector is implemented by anything that can deliver text.
type TextInjector interface {
	Inject(text string) error
}

var _ TextInjector = (*Injector)(nil)

// robotgo entry points, replaced in tests.
var (
	typeText       = func(s string) { robotgo.Type(s) }
	readClipboard  = robotgo.ReadAll
	writeClipboard = robotgo.WriteAll
	keyTap         = func(key, modifier string) error { return robotgo.KeyTap(key, modifier) }
)

// Injector handles typing, pasting or copying text.
type Injector struct {
	method string
}

// NewInjector creates an Injector with the given method.
func NewInjector(method string) (*Injector, error) {
	if !ValidMethod(method) {
		return nil, fmt.Errorf("inject: unknown method %q (want %s, %s or %s)", method, MethodType, MethodPaste, MethodCopy)
	}
	return &Injector{method: method}, nil
}

// ValidMethod reports whether method is a known delivery method.
func ValidMethod(method string) bool {
	switch method {
	case MethodType, MethodPaste, MethodCopy:
		return true
	}
	return false
}

// Method returns the configured delivery method.
func (inj *Injector) Method() string { return inj.method }

// Inject sends text using the configured method.
func (inj *Injector) Inject(text string) error {
	if text == "" {
		return nil
	}

	switch inj.method {
	case MethodPaste:
		return inj.paste(text)
	case MethodCopy:
		return inj.copy(text)
	default:
		return inj.typeText(text)
	}
}

// typeText simulates individual keystrokes. Preserves clipboard contents
// but is slower for long text.
func (inj *Injector) typeText(text string) error {
	typeText(text)
	return nil
}

// copy leaves text on the clipboard for the user to paste.
func (inj *Injector) copy(text string) error {
	if err := writeClipboard(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}
	return nil
}

// paste copies text to clipboard and pastes it with the platform shortcut.
// Faster for long text; the previous clipboard is restored afterwards.
func (inj *Injector) paste(text string) error {
	prev, _ := readClipboard()

	if err := writeClipboard(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}

	mod := pasteModifier(runtime.GOOS)
	if err := keyTap("v", mod); err != nil {
		return fmt.Errorf("inject: key tap %s+v: %w", mod, err)
	}

	// best effort
	_ = writeClipboard(prev)

	return nil
}

func pasteModifier(goos string) string {
	if goos == "darwin" {
		return "cmd"
	}
	return "ctrl"
}
