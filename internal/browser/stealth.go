package browser

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/fingerprint"
)

//go:embed evasions.js
var evasionsScript string

// stealthTasks builds the CDP action sequence that commits the session to a
// fingerprint profile: user agent, timezone, locale, and screen overrides,
// plus a script evaluated on every new document that normalizes the
// navigator surface to match. The profile is applied exactly once per
// session and never changed afterwards.
func stealthTasks(p fingerprint.Profile, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying fingerprint profile",
		zap.String("user_agent", p.UserAgent),
		zap.String("platform", p.Platform),
		zap.String("timezone", p.Timezone))

	script := strings.NewReplacer(
		"__HW_CONCURRENCY__", strconv.Itoa(p.HardwareConcurrency),
		"__DEVICE_MEMORY__", strconv.Itoa(p.DeviceMemory),
		"__PLATFORM__", p.Platform,
		"__LANGUAGES__", jsStringArray(p.Languages),
	).Replace(evasionsScript)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(strings.Join(p.Languages, ",")).
			WithPlatform(p.Platform),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1.0, false),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("injecting evasions script: %w", err)
			}
			return nil
		}),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(p.Languages),
		}),
	}
}

func acceptLanguage(langs []string) string {
	if len(langs) == 0 {
		return "en-GB,en;q=0.9"
	}
	out := langs[0]
	for i, l := range langs[1:] {
		out += fmt.Sprintf(",%s;q=0.%d", l, 9-i)
	}
	return out
}

func jsStringArray(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
