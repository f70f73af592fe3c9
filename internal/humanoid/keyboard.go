package humanoid

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/kestrel4d/adpost/internal/locator"
)

// keyboardNeighbors maps each key to the keys physically adjacent on a QWERTY
// layout. Typos substitute a neighbor, never a random character.
var keyboardNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// commonNgrams lists letter sequences practiced typists produce noticeably
// faster than their baseline rhythm.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true,
}

// Type clears the field, focuses it, and emits one key event per character of
// text with randomized inter-key delays. With probability TypoRate a
// character is preceded by a neighbor-key mistake that is recognized, erased
// with Backspace, and retyped, so the committed text always equals text
// exactly regardless of how many typos occur.
func (s *Simulator) Type(ctx context.Context, page Surface, m locator.Match, text string) error {
	if err := s.Click(ctx, page, m); err != nil {
		return fmt.Errorf("humanoid: clicking %q: %w", m.Target, err)
	}
	// A click caught by a wrapping element does not always move keyboard
	// focus to the input itself.
	if err := page.Focus(ctx, m.Query, m.Kind); err != nil {
		return fmt.Errorf("humanoid: focusing %q: %w", m.Target, err)
	}
	if err := page.ClearValue(ctx, m.Query, m.Kind); err != nil {
		return fmt.Errorf("humanoid: clearing %q: %w", m.Target, err)
	}
	// Planning pause between focusing the field and the first keystroke.
	if err := s.keyPause(ctx, 3.0, 1.2, nil, 0); err != nil {
		return err
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if err := s.keyPause(ctx, 1.0, 1.0, runes, i); err != nil {
			return err
		}
		if s.rng.Float64() < s.cfg.TypoRate {
			if err := s.typoAndCorrect(ctx, page, runes[i]); err != nil {
				return err
			}
			continue
		}
		if err := page.SendKeys(ctx, string(runes[i])); err != nil {
			return fmt.Errorf("humanoid: sending key %q: %w", runes[i], err)
		}
	}
	return nil
}

// typoAndCorrect emits a wrong neighbor key, pauses as if noticing, erases it,
// and types the intended character. If the character has no mapped neighbor
// the intended key is sent directly.
func (s *Simulator) typoAndCorrect(ctx context.Context, page Surface, intended rune) error {
	neighbors, ok := keyboardNeighbors[unicode.ToLower(intended)]
	if !ok || len(neighbors) == 0 {
		return page.SendKeys(ctx, string(intended))
	}

	wrong := rune(neighbors[s.rng.Intn(len(neighbors))])
	if unicode.IsUpper(intended) && s.rng.Float64() < 0.8 {
		wrong = unicode.ToUpper(wrong)
	}

	if err := page.SendKeys(ctx, string(wrong)); err != nil {
		return err
	}
	// Recognition pause is longer than the typing rhythm.
	if err := s.keyPause(ctx, 1.8, 0.6, nil, 0); err != nil {
		return err
	}
	if err := page.SendKeys(ctx, KeyBackspace); err != nil {
		return err
	}
	if err := s.keyPause(ctx, 1.2, 0.5, nil, 0); err != nil {
		return err
	}
	return page.SendKeys(ctx, string(intended))
}

// keyPause waits an inter-key delay drawn from a normal distribution, scaled
// down when the current position completes a common digram or trigram.
func (s *Simulator) keyPause(ctx context.Context, meanScale, stdDevScale float64, runes []rune, index int) error {
	mean := s.cfg.KeyDelayMeanMs * meanScale
	stdDev := s.cfg.KeyDelayStdDevMs * stdDevScale
	minDelay := s.cfg.KeyDelayMinMs * meanScale

	ngramFactor := 1.0
	if index >= 2 && index < len(runes) {
		if commonNgrams[strings.ToLower(string(runes[index-2:index+1]))] {
			ngramFactor = 0.55
		}
	}
	if ngramFactor == 1.0 && index >= 1 && index < len(runes) {
		if commonNgrams[strings.ToLower(string(runes[index-1:index+1]))] {
			ngramFactor = 0.7
		}
	}

	delay := s.rng.NormFloat64()*stdDev + mean*ngramFactor
	final := math.Max(minDelay*ngramFactor, delay)
	return s.sleeper.Sleep(ctx, time.Duration(final)*time.Millisecond)
}
