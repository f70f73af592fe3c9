// Package fingerprint produces the consistent browser identity presented for
// one session. Profiles are drawn whole from a fixed pool of realistic
// combinations; individual traits are never recombined across pool entries,
// since a mixed identity (say, a Windows user agent with a Mac platform
// string) is itself a detectable signal.
package fingerprint

import (
	"math/rand"
)

// Profile is an immutable bundle of browser-identity signals. Once a session
// has applied a profile it must keep it for the session's lifetime.
type Profile struct {
	UserAgent           string   `json:"user_agent"`
	Platform            string   `json:"platform"`
	Languages           []string `json:"languages"`
	Timezone            string   `json:"timezone"`
	Locale              string   `json:"locale"`
	HardwareConcurrency int      `json:"hardware_concurrency"`
	DeviceMemory        int      `json:"device_memory"`
	Width               int64    `json:"width"`
	Height              int64    `json:"height"`
}

// pool holds internally-consistent identities observed in real traffic.
// Entries keep user agent, platform, locale, and hardware hints coherent
// with each other.
var pool = []Profile{
	{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:            "Win32",
		Languages:           []string{"en-GB", "en"},
		Timezone:            "Europe/London",
		Locale:              "en-GB",
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		Width:               1920,
		Height:              1080,
	},
	{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		Platform:            "Win32",
		Languages:           []string{"en-GB", "en"},
		Timezone:            "Europe/London",
		Locale:              "en-GB",
		HardwareConcurrency: 12,
		DeviceMemory:        16,
		Width:               2560,
		Height:              1440,
	},
	{
		UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:            "MacIntel",
		Languages:           []string{"en-GB", "en"},
		Timezone:            "Europe/London",
		Locale:              "en-GB",
		HardwareConcurrency: 10,
		DeviceMemory:        16,
		Width:               1728,
		Height:              1117,
	},
	{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:            "Win32",
		Languages:           []string{"en-US", "en"},
		Timezone:            "America/New_York",
		Locale:              "en-US",
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		Width:               1920,
		Height:              1080,
	},
	{
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:            "Linux x86_64",
		Languages:           []string{"en-US", "en"},
		Timezone:            "America/Chicago",
		Locale:              "en-US",
		HardwareConcurrency: 16,
		DeviceMemory:        32,
		Width:               1920,
		Height:              1200,
	},
}

// Generator draws profiles from the pool, biased toward a target locale.
type Generator struct {
	rng    *rand.Rand
	locale string
	bias   float64
}

// Option configures a Generator.
type Option func(*Generator)

// WithLocaleBias biases selection toward pool entries matching locale.
// bias is the probability of restricting the draw to matching entries;
// 1.0 always prefers them, 0 disables the bias entirely.
func WithLocaleBias(locale string, bias float64) Option {
	return func(g *Generator) {
		g.locale = locale
		g.bias = bias
	}
}

// NewGenerator creates a Generator over the built-in pool. The random source
// is injected so a fixed seed yields the same profile on every run.
func NewGenerator(rng *rand.Rand, opts ...Option) *Generator {
	g := &Generator{rng: rng, locale: "en-GB", bias: 0.85}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns one whole pool entry. The returned profile shares no
// mutable state with the pool.
func (g *Generator) Generate() Profile {
	candidates := pool
	if g.bias > 0 && g.rng.Float64() < g.bias {
		if matching := g.matchingLocale(); len(matching) > 0 {
			candidates = matching
		}
	}
	p := candidates[g.rng.Intn(len(candidates))]
	p.Languages = append([]string(nil), p.Languages...)
	return p
}

func (g *Generator) matchingLocale() []Profile {
	var out []Profile
	for _, p := range pool {
		if p.Locale == g.locale {
			out = append(out, p)
		}
	}
	return out
}

// PoolSize reports how many identities the pool carries. Exposed for tests.
func PoolSize() int { return len(pool) }
