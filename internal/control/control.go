// Package control holds the local unix socket plumbing shared by the daemon
// and its clients: socket setup, request helpers, and the control endpoint
// that receives toggle and auto-stop tokens.
package control

// Tokens accepted by the control endpoint.
const (
	TokenToggleType = "TOGGLE_TYPE"
	TokenToggleCopy = "TOGGLE_COPY"
	TokenCancel     = "CANCEL"
	TokenAutoStop   = "AUTO_STOP"
)

// IsToken reports whether s is a known control token.
func IsToken(s string) bool {
	switch s {
	case TokenToggleType, TokenToggleCopy, TokenCancel, TokenAutoStop:
		return true
	}
	return false
}
