// internal/agent/shim.go
package agent

import (
	"fmt"
	"html"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// CredentialSource looks up the fields of a login profile.
type CredentialSource interface {
	Credentials(profile string) (map[string]string, bool)
}

// Placeholder returns the token the decision-maker uses for a profile field,
// e.g. "password" becomes "<PASSWORD>".
func Placeholder(field string) string {
	return "<" + strings.ToUpper(strings.TrimSpace(field)) + ">"
}

type secret struct {
	placeholder string
	value       string
}

// CredentialShim substitutes placeholders with secrets on the way to a handler
// and scrubs secrets back to placeholders on the way out.
type CredentialShim struct {
	profile string
	// secrets is sorted by descending value length so Scrub prefers the longest match.
	secrets []secret
}

// NewCredentialShim loads a profile from src. It fails with ErrUnknownProfile
// when the profile is not configured.
func NewCredentialShim(src CredentialSource, profile string) (*CredentialShim, error) {
	fields, ok := src.Credentials(profile)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}

	shim := &CredentialShim{profile: profile}
	for field, value := range fields {
		if value == "" {
			continue
		}
		shim.secrets = append(shim.secrets, secret{placeholder: Placeholder(field), value: value})
	}
	sort.Slice(shim.secrets, func(i, j int) bool {
		if len(shim.secrets[i].value) != len(shim.secrets[j].value) {
			return len(shim.secrets[i].value) > len(shim.secrets[j].value)
		}
		return shim.secrets[i].placeholder < shim.secrets[j].placeholder
	})
	return shim, nil
}

// NoCredentials returns a shim with no secrets, for runs that need no login.
func NoCredentials() *CredentialShim { return &CredentialShim{} }

// Profile is the name of the loaded profile.
func (c *CredentialShim) Profile() string { return c.profile }

// Placeholders lists the tokens the decision-maker may use, sorted.
func (c *CredentialShim) Placeholders() []string {
	out := make([]string, 0, len(c.secrets))
	for _, s := range c.secrets {
		out = append(out, s.placeholder)
	}
	sort.Strings(out)
	return out
}

// Resolve turns a placeholder-bearing call into an executable one. It is the
// only way to obtain a ResolvedInvocation.
func (c *CredentialShim) Resolve(call ToolCall) ResolvedInvocation {
	inv := ResolvedInvocation{
		id:   call.ID,
		name: call.Name,
		args: make(map[string]any, len(call.Arguments)),
	}
	for key, raw := range call.Arguments {
		str, ok := raw.(string)
		if !ok {
			inv.args[key] = raw
			continue
		}
		for _, s := range c.secrets {
			if strings.Contains(str, s.placeholder) {
				str = strings.ReplaceAll(str, s.placeholder, s.value)
				inv.substituted = append(inv.substituted, s.placeholder)
			}
		}
		inv.args[key] = str
	}
	sort.Strings(inv.substituted)
	return inv
}

// Scrub replaces every known secret value in text with its placeholder,
// including the HTML-escaped and URL-encoded forms found in markup and URLs.
func (c *CredentialShim) Scrub(text string) string {
	for _, s := range c.secrets {
		text = strings.ReplaceAll(text, s.value, s.placeholder)
		for _, encoded := range encodedForms(s.value) {
			text = strings.ReplaceAll(text, encoded, s.placeholder)
		}
	}
	return text
}

func encodedForms(value string) []string {
	var forms []string
	for _, f := range []string{
		html.EscapeString(value),
		url.QueryEscape(value),
		url.PathEscape(value),
		html.EscapeString(url.QueryEscape(value)),
	} {
		if f != value && !containsString(forms, f) {
			forms = append(forms, f)
		}
	}
	return forms
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ScrubError returns err with secrets removed from its message. errors.Is and
// errors.As still see the original chain.
func (c *CredentialShim) ScrubError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	scrubbed := c.Scrub(msg)
	if scrubbed == msg {
		return err
	}
	return &scrubbedError{msg: scrubbed, cause: err}
}

type scrubbedError struct {
	msg   string
	cause error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.cause }

// ResolvedInvocation is a ToolCall with secrets substituted. Its fields are
// unexported so it cannot be built outside the shim or put into history.
type ResolvedInvocation struct {
	id          string
	name        string
	args        map[string]any
	substituted []string
}

func (r ResolvedInvocation) ID() string   { return r.id }
func (r ResolvedInvocation) Name() string { return r.name }

// Substituted lists the placeholders that were replaced, for logging.
func (r ResolvedInvocation) Substituted() []string { return r.substituted }

// Has reports whether the argument was supplied.
func (r ResolvedInvocation) Has(key string) bool {
	_, ok := r.args[key]
	return ok
}

// String returns a string argument, or "" when absent or not a string.
func (r ResolvedInvocation) String(key string) string {
	s, _ := r.args[key].(string)
	return s
}

// Number returns a numeric argument. Strings holding numbers are accepted
// since some models quote them.
func (r ResolvedInvocation) Number(key string) (float64, bool) {
	switch v := r.args[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
