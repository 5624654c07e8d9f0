// Package template renders outreach message bodies with the Liquid template
// language. Bindings come from the action's target profile.
package template

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ignite/outreach/internal/domain"
	"github.com/osteele/liquid"
)

// Renderer parses and renders message templates. Parsed templates are
// cached by content hash, so identical bodies across actions parse once.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the outreach filters registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", value))
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ company | first_word }}
	r.engine.RegisterFilter("first_word", func(s string) string {
		fields := strings.Fields(s)
		if len(fields) == 0 {
			return ""
		}
		return fields[0]
	})
}

// Bindings returns the template variables for a target.
func Bindings(t domain.Target) map[string]interface{} {
	return map[string]interface{}{
		"first_name":  t.FirstName,
		"last_name":   t.LastName,
		"company":     t.Company,
		"headline":    t.Headline,
		"profile_url": t.ProfileURL,
	}
}

func cacheKey(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Render renders body for target. Bodies without Liquid markup are
// returned unchanged. Unknown variables render empty.
func (r *Renderer) Render(body string, target domain.Target) (string, error) {
	if !strings.Contains(body, "{{") && !strings.Contains(body, "{%") {
		return body, nil
	}

	tpl, err := r.parse(body)
	if err != nil {
		return "", err
	}
	out, rerr := tpl.RenderString(Bindings(target))
	if rerr != nil {
		return "", fmt.Errorf("render message template: %w", rerr)
	}
	return strings.TrimSpace(out), nil
}

// Validate reports whether body parses.
func (r *Renderer) Validate(body string) error {
	_, err := r.parse(body)
	return err
}

func (r *Renderer) parse(body string) (*liquid.Template, error) {
	key := cacheKey(body)
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse message template: %w", err)
	}
	r.cache.Store(key, tpl)
	return tpl, nil
}

// Cached returns how many parsed templates are held.
func (r *Renderer) Cached() int {
	n := 0
	r.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
