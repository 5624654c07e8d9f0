package domain

import "encoding/json"

// Cookie is one browser cookie of a captured session. Field names follow
// the DevTools protocol so cookies round-trip without translation.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
	Session  bool    `json:"session,omitempty"`
}

// Credentials is the unsealed login material of a sender.
type Credentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret,omitempty"`
	ProxyURL   string `json:"proxy_url,omitempty"`
}

// Worker API payloads shared by the server handlers and the worker client.

type NextActionsResponse struct {
	Actions []Action `json:"actions"`
}

type CompleteRequest struct {
	Result json.RawMessage `json:"result,omitempty"`
}

type FailRequest struct {
	Error string `json:"error"`
}

// ReleaseRequest hands a claimed action back without charging an attempt.
type ReleaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

type SessionPayload struct {
	Cookies []Cookie `json:"cookies"`
}

type PauseRequest struct {
	Reason PauseReason `json:"reason"`
}

type SendersResponse struct {
	Senders []Sender `json:"senders"`
}

// UsageResponse reports a sender's consumption against its limits today.
type UsageResponse struct {
	SenderID string     `json:"sender_id"`
	Usage    DailyUsage `json:"usage"`
	Limits   Limits     `json:"limits"`
}
