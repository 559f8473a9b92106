// Package session normalizes browser session bundles (cookies plus origin
// storage) supplied by callers so they can be restored into a fresh browser
// context. Bundles arrive as untrusted JSON exported from a previous browsing
// session.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Cookie is the subset of a stored cookie the browser restore path needs.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // unix seconds, 0/-1 = session cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"` // Strict, Lax or None after Normalize
}

// Parse decodes a raw session bundle. A bare top-level array is treated as a
// cookie list and wrapped into the canonical {"cookies": [...]} shape.
func Parse(raw []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid session bundle: %w", err)
	}

	switch t := v.(type) {
	case []any:
		return map[string]any{"cookies": t}, nil
	case map[string]any:
		return t, nil
	default:
		return nil, fmt.Errorf("session bundle must be an object or a cookie array")
	}
}

// Normalize repairs a parsed session bundle in a pure, total way: the input is
// never mutated and no shape is rejected. Cookie sameSite values are
// case-repaired to Strict, Lax or None; unrecognized values are dropped.
// Normalize is idempotent.
func Normalize(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}

	rawCookies, ok := out["cookies"].([]any)
	if !ok {
		return out
	}

	cookies := make([]any, 0, len(rawCookies))
	for _, rc := range rawCookies {
		cookie, ok := rc.(map[string]any)
		if !ok {
			cookies = append(cookies, rc)
			continue
		}

		copied := make(map[string]any, len(cookie))
		for k, v := range cookie {
			copied[k] = v
		}

		if ss, ok := copied["sameSite"].(string); ok {
			if fixed, ok := canonicalSameSite(ss); ok {
				copied["sameSite"] = fixed
			} else {
				delete(copied, "sameSite")
			}
		}
		cookies = append(cookies, copied)
	}
	out["cookies"] = cookies

	return out
}

// canonicalSameSite maps any casing of strict/lax/none onto the canonical
// browser spelling.
func canonicalSameSite(v string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return "Strict", true
	case "lax":
		return "Lax", true
	case "none":
		return "None", true
	default:
		return "", false
	}
}

// Cookies extracts the typed cookie list from a normalized bundle. Entries
// that are not objects or carry no name are skipped.
func Cookies(state map[string]any) []Cookie {
	rawCookies, ok := state["cookies"].([]any)
	if !ok {
		return nil
	}

	var cookies []Cookie
	for _, rc := range rawCookies {
		m, ok := rc.(map[string]any)
		if !ok {
			continue
		}
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		var c Cookie
		if err := json.Unmarshal(data, &c); err != nil || c.Name == "" {
			continue
		}
		cookies = append(cookies, c)
	}
	return cookies
}
