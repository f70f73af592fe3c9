// Package session persists authentication state between runs. A Session is a
// set of cookie records plus the fingerprint profile they were captured under;
// the Store owns the on-disk document and normalizes every cookie domain to a
// single canonical form so repeated save/load cycles never accumulate
// duplicate or mismatched entries.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/kestrel4d/adpost/internal/fingerprint"
)

// ErrNotFound indicates no usable session document exists. Callers treat it
// as the unauthenticated path, not a failure.
var ErrNotFound = errors.New("session: no stored session")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cookie is one persisted cookie record. Domain is always stored in the
// leading-dot apex form (".example.com").
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
	// Expires is zero for session cookies.
	Expires time.Time `json:"expires,omitempty"`
}

// Expired reports whether the cookie has passed its expiry at the given time.
// Session cookies (zero Expires) never expire here.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && c.Expires.Before(now)
}

// Validity is the last-checked login state of a session.
type Validity string

const (
	ValidityUnknown Validity = "unknown"
	ValidityValid   Validity = "valid"
	ValidityInvalid Validity = "invalid"
)

// Session is the restorable authentication state for one browser profile.
type Session struct {
	Cookies  []Cookie            `json:"cookies"`
	Profile  fingerprint.Profile `json:"profile"`
	Validity Validity            `json:"-"`
	SavedAt  time.Time           `json:"saved_at"`
}

// PageSignal is the abstract "am I logged in" evidence derived from the
// current page by whoever can see it.
type PageSignal struct {
	AccountMenuVisible bool
	LoginPromptVisible bool
}

// Store reads and writes the session document for one target domain.
type Store struct {
	path   string
	apex   string
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a store bound to the target domain. The apex (eTLD+1) of
// the domain is computed once; every cookie is normalized against it.
func NewStore(path, targetDomain string, logger *zap.Logger) (*Store, error) {
	apex, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimPrefix(targetDomain, "."))
	if err != nil {
		return nil, fmt.Errorf("session: cannot derive apex domain from %q: %w", targetDomain, err)
	}
	return &Store{
		path:   path,
		apex:   apex,
		logger: logger.Named("session"),
		now:    time.Now,
	}, nil
}

// Apex returns the canonical apex domain the store filters against.
func (st *Store) Apex() string { return st.apex }

// NormalizeDomain maps any cookie domain variant onto the leading-dot apex
// form. It returns false for domains outside the target apex; such cookies
// are dropped silently on load rather than treated as errors.
func (st *Store) NormalizeDomain(domain string) (string, bool) {
	d := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
	if d == "" {
		// Host-only cookies captured on the target default to the apex.
		return "." + st.apex, true
	}
	if d == st.apex || strings.HasSuffix(d, "."+st.apex) {
		return "." + st.apex, true
	}
	return "", false
}

// Load reads the persisted session, normalizes cookie domains, and discards
// expired or foreign-domain entries. The returned session always starts with
// Validity unknown; only Validate can promote it.
func (st *Store) Load() (*Session, error) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: reading %s: %w", st.path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		st.logger.Warn("Session document is corrupt, treating as absent",
			zap.String("path", st.path), zap.Error(err))
		return nil, ErrNotFound
	}

	now := st.now()
	kept := s.Cookies[:0]
	var dropped int
	for _, c := range s.Cookies {
		domain, ok := st.NormalizeDomain(c.Domain)
		if !ok || c.Expired(now) {
			dropped++
			continue
		}
		c.Domain = domain
		if c.Path == "" {
			c.Path = "/"
		}
		kept = append(kept, c)
	}
	s.Cookies = kept
	s.Validity = ValidityUnknown

	if dropped > 0 {
		st.logger.Debug("Dropped stale or foreign cookies on load",
			zap.Int("dropped", dropped), zap.Int("kept", len(kept)))
	}
	if len(s.Cookies) == 0 {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Save atomically replaces the session document. The write goes to a temp
// file in the same directory followed by a rename, so a crash mid-write never
// leaves a truncated document behind.
func (st *Store) Save(s *Session) error {
	kept := make([]Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		domain, ok := st.NormalizeDomain(c.Domain)
		if !ok {
			continue
		}
		c.Domain = domain
		if c.Path == "" {
			c.Path = "/"
		}
		kept = append(kept, c)
	}

	out := *s
	out.Cookies = kept
	out.SavedAt = st.now().UTC()

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding: %w", err)
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("session: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, st.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: replacing %s: %w", st.path, err)
	}

	st.logger.Info("Session saved",
		zap.String("path", st.path), zap.Int("cookies", len(kept)))
	return nil
}

// Validate folds a page-derived login signal into the session's validity.
// A visible account menu wins; an explicit login prompt marks the session
// invalid; anything else leaves validity unknown.
func (st *Store) Validate(s *Session, sig PageSignal) bool {
	switch {
	case sig.AccountMenuVisible:
		s.Validity = ValidityValid
	case sig.LoginPromptVisible:
		s.Validity = ValidityInvalid
	default:
		s.Validity = ValidityUnknown
	}
	st.logger.Debug("Session validity updated", zap.String("validity", string(s.Validity)))
	return s.Validity == ValidityValid
}

// Clear removes the persisted document. Used when saved cookies turn out to
// be expired so the next run goes straight to manual login.
func (st *Store) Clear() error {
	err := os.Remove(st.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: removing %s: %w", st.path, err)
	}
	return nil
}
