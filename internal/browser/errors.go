package browser

import "errors"

var (
	// ErrSessionExpired means the site showed a login wall instead of the
	// requested page. The saved cookies no longer authenticate.
	ErrSessionExpired = errors.New("session expired")
	// ErrBlocked means the site showed a checkpoint or captcha page.
	ErrBlocked = errors.New("account checkpoint or captcha")
	// ErrTwoFactorRequired means login hit a verification challenge and no
	// TOTP secret or verification code was supplied.
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrLoginTimeout means no post-login page was reached in time.
	ErrLoginTimeout = errors.New("timed out waiting for login")

	ErrBrowserNotFound = errors.New("no browser binary found")
	ErrNoPageTarget    = errors.New("browser exposed no page target")
	ErrClosed          = errors.New("devtools connection closed")
	ErrCallTimeout     = errors.New("devtools call timed out")
	ErrElementNotFound = errors.New("element not found")
)

// ProtocolError is an error object returned by the browser for a call.
type ProtocolError struct {
	Method  string `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return e.Method + ": " + e.Message
}
