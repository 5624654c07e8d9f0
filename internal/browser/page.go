package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// Page readiness is polled this many times.
const (
	readyAttempts = 40
	readyInterval = 250 * time.Millisecond
)

// CookieTimeout bounds cookie extraction.
const CookieTimeout = 10 * time.Second

// Page drives one page target.
type Page struct {
	c             *Client
	readyAttempts int
	readyInterval time.Duration
}

// NewPage wraps a connected client.
func NewPage(c *Client) *Page {
	return &Page{c: c, readyAttempts: readyAttempts, readyInterval: readyInterval}
}

// Client returns the underlying protocol client.
func (p *Page) Client() *Client { return p.c }

// PageOptions configures a page before first navigation.
type PageOptions struct {
	UserAgent     string
	ProxyUsername string
	ProxyPassword string
}

// Init enables the protocol domains, installs the stealth script and user
// agent, and answers proxy auth challenges when credentials are set.
func (p *Page) Init(ctx context.Context, opts PageOptions) error {
	for _, m := range []string{"Page.enable", "Network.enable", "Runtime.enable"} {
		if err := p.c.Call(ctx, m, nil, nil); err != nil {
			return fmt.Errorf("init page: %w", err)
		}
	}

	if err := p.c.Call(ctx, "Page.addScriptToEvaluateOnNewDocument",
		map[string]string{"source": stealthScript}, nil); err != nil {
		return fmt.Errorf("install stealth script: %w", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	if err := p.c.Call(ctx, "Network.setUserAgentOverride", map[string]string{
		"userAgent":      ua,
		"acceptLanguage": "en-US,en;q=0.9",
		"platform":       platformFor(ua),
	}, nil); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}

	if opts.ProxyUsername != "" {
		return p.enableProxyAuth(ctx, opts.ProxyUsername, opts.ProxyPassword)
	}
	return nil
}

type fetchEvent struct {
	RequestID string `json:"requestId"`
}

// enableProxyAuth intercepts requests so that proxy auth challenges are
// answered with the given credentials. Every other paused request is
// continued untouched.
func (p *Page) enableProxyAuth(ctx context.Context, username, password string) error {
	p.c.On("Fetch.authRequired", func(raw json.RawMessage) {
		var ev fetchEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		go func() {
			err := p.c.Call(context.Background(), "Fetch.continueWithAuth", map[string]any{
				"requestId": ev.RequestID,
				"authChallengeResponse": map[string]string{
					"response": "ProvideCredentials",
					"username": username,
					"password": password,
				},
			}, nil)
			if err != nil && !errors.Is(err, ErrClosed) {
				logger.Warn("proxy auth reply failed", "error", err)
			}
		}()
	})
	p.c.On("Fetch.requestPaused", func(raw json.RawMessage) {
		var ev fetchEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		go func() {
			err := p.c.Call(context.Background(), "Fetch.continueRequest",
				map[string]string{"requestId": ev.RequestID}, nil)
			if err != nil && !errors.Is(err, ErrClosed) {
				logger.Debug("continue request failed", "error", err)
			}
		}()
	})
	if err := p.c.Call(ctx, "Fetch.enable", map[string]bool{"handleAuthRequests": true}, nil); err != nil {
		return fmt.Errorf("enable proxy auth: %w", err)
	}
	return nil
}

// Navigate loads url and waits for the document to be ready.
func (p *Page) Navigate(ctx context.Context, url string) error {
	var res struct {
		ErrorText string `json:"errorText"`
	}
	if err := p.c.Call(ctx, "Page.navigate", map[string]string{"url": url}, &res); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, res.ErrorText)
	}
	return p.WaitReady(ctx)
}

// WaitReady polls document.readyState until it is complete. A document
// still interactive when polling ends is accepted.
func (p *Page) WaitReady(ctx context.Context) error {
	var state string
	for i := 0; i < p.readyAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.readyInterval):
			}
		}
		if err := p.Eval(ctx, "document.readyState", &state); err != nil {
			continue
		}
		if state == "complete" {
			return nil
		}
	}
	if state == "interactive" {
		return nil
	}
	return fmt.Errorf("%w: page not ready (state %q)", ErrCallTimeout, state)
}

type evalResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// Eval evaluates a JavaScript expression and decodes its value into out.
// Promises are awaited.
func (p *Page) Eval(ctx context.Context, expr string, out any) error {
	var res evalResult
	err := p.c.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	}, &res)
	if err != nil {
		return err
	}
	if ex := res.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return fmt.Errorf("eval: %s", msg)
	}
	if out != nil && len(res.Result.Value) > 0 {
		return json.Unmarshal(res.Result.Value, out)
	}
	return nil
}

// URL returns the page's current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	err := p.Eval(ctx, "location.href", &u)
	return u, err
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Exists reports whether selector matches an element.
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	err := p.Eval(ctx, fmt.Sprintf("!!document.querySelector(%s)", jsString(selector)), &ok)
	return ok, err
}

// Click scrolls the first element matching selector into view and clicks it.
func (p *Page) Click(ctx context.Context, selector string) error {
	var ok bool
	err := p.Eval(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.click();
		return true;
	})()`, jsString(selector)), &ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// ClickText clicks the first element matching selector whose visible text
// equals text, ignoring case and surrounding space.
func (p *Page) ClickText(ctx context.Context, selector, text string) error {
	var ok bool
	err := p.Eval(ctx, fmt.Sprintf(`(() => {
		const want = %s.toLowerCase();
		for (const el of document.querySelectorAll(%s)) {
			if ((el.innerText || '').trim().toLowerCase() === want) {
				el.scrollIntoView({block: 'center'});
				el.click();
				return true;
			}
		}
		return false;
	})()`, jsString(text), jsString(selector)), &ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %q", ErrElementNotFound, selector, text)
	}
	return nil
}

// Focus focuses the first element matching selector.
func (p *Page) Focus(ctx context.Context, selector string) error {
	var ok bool
	err := p.Eval(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.focus();
		return true;
	})()`, jsString(selector)), &ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// WaitFor polls until selector matches or attempts run out.
func (p *Page) WaitFor(ctx context.Context, selector string, attempts int) error {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.readyInterval):
			}
		}
		if ok, err := p.Exists(ctx, selector); err == nil && ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
}

// InsertText types text into the focused element as one input event.
func (p *Page) InsertText(ctx context.Context, text string) error {
	return p.c.Call(ctx, "Input.insertText", map[string]string{"text": text}, nil)
}

// ScrollBy scrolls the window by dy pixels.
func (p *Page) ScrollBy(ctx context.Context, dy int) error {
	return p.Eval(ctx, fmt.Sprintf("window.scrollBy(0, %d)", dy), nil)
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.Eval(ctx, "document.documentElement.outerHTML", &html)
	return html, err
}

// matchesDomain reports whether a cookie domain belongs to domain. Cookie
// domains may carry a leading dot.
func matchesDomain(cookieDomain, domain string) bool {
	cd := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	return cd == d || strings.HasSuffix(cd, "."+d)
}

// Cookies returns the browser's cookies for domain.
func (p *Page) Cookies(ctx context.Context, cookieDomain string) ([]domain.Cookie, error) {
	ctx, cancel := context.WithTimeout(ctx, CookieTimeout)
	defer cancel()

	var res struct {
		Cookies []domain.Cookie `json:"cookies"`
	}
	if err := p.c.Call(ctx, "Network.getAllCookies", nil, &res); err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	out := make([]domain.Cookie, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		if cookieDomain == "" || matchesDomain(c.Domain, cookieDomain) {
			out = append(out, c)
		}
	}
	return out, nil
}

type cookieParam struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// SetCookies restores a saved session.
func (p *Page) SetCookies(ctx context.Context, cookies []domain.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]cookieParam, 0, len(cookies))
	for _, c := range cookies {
		cp := cookieParam{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			HTTPOnly: c.HTTPOnly, Secure: c.Secure, SameSite: c.SameSite,
		}
		if !c.Session && c.Expires > 0 {
			cp.Expires = c.Expires
		}
		params = append(params, cp)
	}
	if err := p.c.Call(ctx, "Network.setCookies", map[string]any{"cookies": params}, nil); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var res struct {
		Data string `json:"data"`
	}
	if err := p.c.Call(ctx, "Page.captureScreenshot", map[string]string{"format": "png"}, &res); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	img, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}
