package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/listing"
	"github.com/kestrel4d/adpost/internal/locator"
	"github.com/kestrel4d/adpost/internal/session"
)

// start validates the listing before any page interaction happens. A listing
// that cannot be posted fails here with a terminal rejection.
func (m *Machine) start(_ context.Context, r *run) error {
	if err := r.item.Validate(); err != nil {
		return failKind(listing.ErrSubmissionRejected, "listing invalid: %v", err)
	}
	if err := listing.ValidateLocation(r.item.Location); err != nil {
		return failKind(listing.ErrSubmissionRejected, "location invalid: %v", err)
	}
	return nil
}

// ensureSession lands on the site and establishes an authenticated session:
// already logged in wins, otherwise stored cookies are restored and checked
// against the page. No workable session means manual handoff.
func (m *Machine) ensureSession(ctx context.Context, r *run) error {
	if err := m.browser.Navigate(ctx, m.cfg.BaseURL); err != nil {
		return fmt.Errorf("opening %s: %w", m.cfg.BaseURL, err)
	}

	sig, err := m.loginSignal(ctx)
	if err != nil {
		return err
	}
	if sig.AccountMenuVisible {
		m.logger.Debug("Already authenticated")
		return m.captureSession(ctx, r)
	}

	stored, err := m.sessions.Load()
	if errors.Is(err, session.ErrNotFound) {
		return errManualLogin
	}
	if err != nil {
		return fmt.Errorf("loading stored session: %w", err)
	}

	if err := m.browser.ImportCookies(ctx, stored.Cookies); err != nil {
		return fmt.Errorf("restoring cookies: %w", err)
	}
	if err := m.browser.Reload(ctx); err != nil {
		return err
	}

	sig, err = m.loginSignal(ctx)
	if err != nil {
		return err
	}
	if !m.sessions.Validate(stored, sig) {
		// Stored cookies no longer authenticate; drop them so the next run
		// goes straight to the handoff instead of repeating this dance.
		if cerr := m.sessions.Clear(); cerr != nil {
			m.logger.Warn("Could not clear stale session", zap.Error(cerr))
		}
		return errManualLogin
	}

	r.sess = stored
	return m.captureSession(ctx, r)
}

// captureSession snapshots the live cookies back to the store. The site
// rotates cookie values during a run, so every successful check refreshes
// the saved copy. A failed save is logged but never fails the run.
func (m *Machine) captureSession(ctx context.Context, r *run) error {
	cookies, err := m.browser.ExportCookies(ctx)
	if err != nil {
		return fmt.Errorf("exporting cookies: %w", err)
	}
	s := &session.Session{
		Cookies:  cookies,
		Profile:  m.cfg.Profile,
		Validity: session.ValidityValid,
	}
	if err := m.sessions.Save(s); err != nil {
		m.logger.Warn("Session snapshot not saved", zap.Error(err))
	}
	r.sess = s
	return nil
}

// loginSignal probes the page for the authenticated-account menu and the
// login prompt. Probes are bounded and a miss is an answer, so this never
// blocks on the locator's full fallback chain.
func (m *Machine) loginSignal(ctx context.Context) (session.PageSignal, error) {
	var sig session.PageSignal
	var err error
	sig.AccountMenuVisible, err = m.probe(ctx, locator.TargetLoginIndicator)
	if err != nil {
		return sig, err
	}
	if sig.AccountMenuVisible {
		return sig, nil
	}
	sig.LoginPromptVisible, err = m.probe(ctx, locator.TargetLoginPrompt)
	return sig, err
}

// probe checks each bound strategy for current visibility, first hit wins.
func (m *Machine) probe(ctx context.Context, target locator.Target) (bool, error) {
	for _, s := range m.resolver.StrategiesFor(target) {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = m.cfg.SignalTimeout
		}
		query, kind := s.Compile("")
		visible, err := m.browser.VisibleNow(ctx, query, kind, timeout)
		if err != nil {
			return false, err
		}
		if visible {
			return true, nil
		}
	}
	return false, nil
}

// navigatePostAd clicks through to the posting form and waits for it.
func (m *Machine) navigatePostAd(ctx context.Context, _ *run) error {
	match, err := m.resolver.Resolve(ctx, m.browser, locator.TargetPostAdControl)
	if err != nil {
		return err
	}
	if err := m.sim.Click(ctx, m.browser, match); err != nil {
		return err
	}
	// The category box is the first control of the form; its appearance is
	// the signal that the form actually loaded.
	if _, err := m.resolver.Resolve(ctx, m.browser, locator.TargetCategoryField); err != nil {
		return err
	}
	return nil
}

// selectCategory types the category query and picks the first suggestion
// the site offers for it.
func (m *Machine) selectCategory(ctx context.Context, r *run) error {
	query := r.item.CategoryQuery()

	field, err := m.resolver.Resolve(ctx, m.browser, locator.TargetCategoryField)
	if err != nil {
		return err
	}
	if err := m.sim.Type(ctx, m.browser, field, query); err != nil {
		return err
	}

	suggestion, err := m.resolver.ResolveValue(ctx, m.browser, locator.TargetCategorySuggestion, query)
	if err != nil {
		return err
	}
	return m.sim.Click(ctx, m.browser, suggestion)
}

// selectLocation drills the three-level location picker top to bottom. Any
// missed level fails the whole state; a retry reopens the picker and starts
// over from the country, so the page is never left half-drilled.
func (m *Machine) selectLocation(ctx context.Context, r *run) error {
	loc := r.item.Location

	open, err := m.resolver.Resolve(ctx, m.browser, locator.TargetLocationOpen)
	if err == nil {
		if cerr := m.sim.Click(ctx, m.browser, open); cerr != nil {
			return cerr
		}
	} else {
		// A retry can land with the picker already expanded and its opener
		// gone. The country level decides whether we are actually stuck.
		var nf *locator.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
		m.logger.Debug("Location opener not found, assuming picker already open")
	}

	if err := m.clickLevel(ctx, locator.TargetLocationLevel1, loc.Country); err != nil {
		return err
	}
	if err := m.clickLevel(ctx, locator.TargetLocationLevel2, loc.County); err != nil {
		return err
	}
	if loc.Area != "" {
		if err := m.clickLevel(ctx, locator.TargetLocationLevel3, loc.Area); err != nil {
			return err
		}
	}

	cont, err := m.resolver.Resolve(ctx, m.browser, locator.TargetLocationContinue)
	if err != nil {
		return err
	}
	return m.sim.Click(ctx, m.browser, cont)
}

func (m *Machine) clickLevel(ctx context.Context, target locator.Target, value string) error {
	match, err := m.resolver.ResolveValue(ctx, m.browser, target, value)
	if err != nil {
		return err
	}
	m.logger.Debug("Location level selected",
		zap.String("target", string(target)), zap.String("value", value))
	return m.sim.Click(ctx, m.browser, match)
}

// fillContent enters title, description, price and condition, then uploads
// photos. Photo upload is best effort: a listing posts without images rather
// than failing the run.
func (m *Machine) fillContent(ctx context.Context, r *run) error {
	item := r.item

	if err := m.typeInto(ctx, locator.TargetTitleField, item.Title); err != nil {
		return err
	}
	if err := m.typeInto(ctx, locator.TargetDescriptionField, item.Description); err != nil {
		return err
	}
	if err := m.typeInto(ctx, locator.TargetPriceField, item.Price()); err != nil {
		return err
	}
	if err := m.selectCondition(ctx, item.Condition); err != nil {
		return err
	}

	m.uploadPhotos(ctx, item)
	return nil
}

func (m *Machine) typeInto(ctx context.Context, target locator.Target, text string) error {
	match, err := m.resolver.Resolve(ctx, m.browser, target)
	if err != nil {
		return err
	}
	return m.sim.Type(ctx, m.browser, match, text)
}

// selectCondition opens the condition chooser and picks the listing's label.
// Some categories carry no condition control at all; that is not a failure.
func (m *Machine) selectCondition(ctx context.Context, cond listing.Condition) error {
	open, err := m.resolver.Resolve(ctx, m.browser, locator.TargetConditionOpen)
	if err != nil {
		var nf *locator.NotFoundError
		if errors.As(err, &nf) {
			m.logger.Debug("No condition control for this category")
			return nil
		}
		return err
	}
	if err := m.sim.Click(ctx, m.browser, open); err != nil {
		return err
	}

	option, err := m.resolver.ResolveValue(ctx, m.browser, locator.TargetConditionOption, string(cond))
	if err != nil {
		return err
	}
	if err := m.sim.Click(ctx, m.browser, option); err != nil {
		return err
	}

	save, err := m.resolver.Resolve(ctx, m.browser, locator.TargetConditionSave)
	if err != nil {
		// Picking the option closes the chooser on some variants of the
		// form, leaving nothing to save.
		var nf *locator.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}
	return m.sim.Click(ctx, m.browser, save)
}

// uploadPhotos attaches every readable photo to the hidden file input. All
// failures degrade to a logged skip.
func (m *Machine) uploadPhotos(ctx context.Context, item *listing.Listing) {
	files := m.photoFiles(item)
	if len(files) == 0 {
		return
	}

	input, err := m.resolver.Resolve(ctx, m.browser, locator.TargetPhotoInput)
	if err != nil {
		m.logger.Warn("Photo upload skipped: input not found",
			zap.String("listing_id", item.ID), zap.Error(err))
		return
	}
	if err := m.browser.SetUploadFiles(ctx, input.Query, input.Kind, files); err != nil {
		m.logger.Warn("Photo upload skipped",
			zap.String("listing_id", item.ID), zap.Error(err))
		return
	}
	m.logger.Info("Photos attached",
		zap.String("listing_id", item.ID), zap.Int("count", len(files)))
}

// photoFiles filters the listing's photos down to paths that exist, falling
// back to the backup store when the listing carries none.
func (m *Machine) photoFiles(item *listing.Listing) []string {
	paths := item.Photos
	if len(paths) == 0 && m.photos != nil {
		backed, err := m.photos.Photos(item.ID)
		if err != nil {
			m.logger.Warn("Backup photo lookup failed",
				zap.String("listing_id", item.ID), zap.Error(err))
			return nil
		}
		paths = backed
	}

	usable := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			m.logger.Warn("Photo unreadable, skipping",
				zap.String("path", p), zap.Error(err))
			continue
		}
		usable = append(usable, p)
	}
	return usable
}

// reviewFields reads the committed title and price back from the form and
// retypes any field that drifted. Drift happens when the site re-renders a
// control mid-typing.
func (m *Machine) reviewFields(ctx context.Context, r *run) error {
	checks := []struct {
		target locator.Target
		want   string
	}{
		{locator.TargetTitleField, r.item.Title},
		{locator.TargetPriceField, r.item.Price()},
	}

	for _, c := range checks {
		match, err := m.resolver.Resolve(ctx, m.browser, c.target)
		if err != nil {
			return err
		}
		got, err := m.browser.Value(ctx, match.Query, match.Kind)
		if err != nil {
			return err
		}
		if got == c.want {
			continue
		}
		m.logger.Warn("Field drifted, retyping",
			zap.String("target", string(c.target)),
			zap.String("got", got), zap.String("want", c.want))
		if err := m.sim.Type(ctx, m.browser, match, c.want); err != nil {
			return err
		}
		got, err = m.browser.Value(ctx, match.Query, match.Kind)
		if err != nil {
			return err
		}
		if got != c.want {
			return failKind(listing.ErrUnknownPageState,
				"field %s will not hold its value", c.target)
		}
	}
	return nil
}

// submit clicks the submit control exactly once, then watches the form. The
// control staying visible through the grace window means the site kept the
// form open, which it only does to show validation errors.
func (m *Machine) submit(ctx context.Context, r *run) error {
	if r.submitAttempted {
		return failKind(listing.ErrSubmissionRejected, "submit already attempted for this run")
	}

	match, err := m.resolver.Resolve(ctx, m.browser, locator.TargetSubmitControl)
	if err != nil {
		return err
	}

	r.submitAttempted = true
	if err := m.sim.Click(ctx, m.browser, match); err != nil {
		return failKind(listing.ErrSubmissionRejected, "submit click failed: %v", err)
	}

	still, err := m.browser.VisibleNow(ctx, match.Query, match.Kind, m.cfg.SubmitGrace)
	if err != nil {
		return failKind(listing.ErrSubmissionRejected, "post-submit check failed: %v", err)
	}
	if still {
		return failKind(listing.ErrSubmissionRejected, "form still open after submit")
	}
	return nil
}
