package logger

import (
	"net/url"
	"regexp"
	"strings"
)

// sensitiveKeys are field-name fragments whose values never reach the log:
// account passwords, TOTP seeds, one-time verification codes, session
// cookies and the worker shared secret.
var sensitiveKeys = []string{
	"password",
	"totp",
	"verification_code",
	"verificationcode",
	"cookie",
	"li_at",
	"jsessionid",
	"secret",
	"token",
}

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	// Session cookies show up inside driver errors as name=value pairs.
	cookieRegex = regexp.MustCompile(`(?i)\b(li_at|JSESSIONID|li_rm|bcookie|bscookie)=("?)[^;"\s,]+`)
	// Proxy URLs carry the residential proxy login in their userinfo.
	proxyRegex = regexp.MustCompile(`\b(https?|socks5h?)://[^\s/@:]+:[^\s/@]+@`)
)

// RedactEmail masks an email address: "jane.doe@example.com" becomes
// "ja***@example.com", and local parts of two characters or less are
// fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactProxyURL drops the password from a proxy URL and keeps the host so
// operators can still tell which exit was used.
func RedactProxyURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return proxyRegex.ReplaceAllString(raw, "$1://***@")
	}
	u.User = url.User(u.User.Username())
	return strings.Replace(u.String(), u.User.Username()+"@", u.User.Username()+":***@", 1)
}

func isSensitiveKey(key string) bool {
	if strings.HasSuffix(key, "_count") {
		return false
	}
	for _, k := range sensitiveKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	switch {
	case isSensitiveKey(key):
		return "[redacted]"
	case strings.Contains(key, "proxy"):
		return RedactProxyURL(val)
	case strings.Contains(key, "email"):
		return RedactEmail(val)
	}
	// Free text such as error strings can embed any of the above.
	val = cookieRegex.ReplaceAllString(val, "$1=$2[redacted]")
	val = proxyRegex.ReplaceAllString(val, "$1://***@")
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
