// Package protection recognizes bot-challenge pages in rendered markup.
// A challenge page extracts as zero items; naming the block in the job's
// error message beats silently returning an empty result.
package protection

import (
	"strings"
)

// Signal identifies the kind of block detected.
type Signal string

const (
	SignalNone         Signal = ""
	SignalCloudflare   Signal = "cloudflare"
	SignalCaptcha      Signal = "captcha"
	SignalAccessDenied Signal = "access_denied"
)

// Result describes a detected block.
type Result struct {
	Detected    bool
	Signal      Signal
	Description string
}

// Interstitial markers that survive into the rendered DOM. Ordered so the
// most specific signal wins.
var (
	cloudflareMarkers = []string{
		"cf-browser-verification",
		"challenge-platform",
		"cf_chl_opt",
		"_cf_chl",
		"checking your browser",
		"just a moment...",
		"attention required! | cloudflare",
	}

	captchaMarkers = []string{
		"g-recaptcha",
		"h-captcha",
		"data-sitekey",
		"cf-turnstile",
		"please verify you are human",
		"are you a robot",
	}

	accessDeniedMarkers = []string{
		"access to this page has been denied",
		"request blocked",
		"bot detected",
		"automated access",
	}
)

// Detect scans rendered page HTML for challenge markers. It runs after the
// browser has executed scripts, so script-disabled and empty-shell checks
// do not apply here.
func Detect(pageHTML string) Result {
	content := strings.ToLower(pageHTML)

	for _, marker := range cloudflareMarkers {
		if strings.Contains(content, marker) {
			return Result{
				Detected:    true,
				Signal:      SignalCloudflare,
				Description: "Cloudflare challenge page",
			}
		}
	}

	for _, marker := range captchaMarkers {
		if strings.Contains(content, marker) {
			return Result{
				Detected:    true,
				Signal:      SignalCaptcha,
				Description: "captcha challenge",
			}
		}
	}

	for _, marker := range accessDeniedMarkers {
		if strings.Contains(content, marker) {
			return Result{
				Detected:    true,
				Signal:      SignalAccessDenied,
				Description: "access denied page",
			}
		}
	}

	return Result{}
}
