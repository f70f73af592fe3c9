// Package locator resolves logical UI targets ("post-ad control", "title
// field") to concrete page elements. Each target is bound to an ordered list
// of lookup strategies; the resolver tries them in order with a bounded
// per-strategy timeout and the first success wins. Robustness against remote
// markup churn comes from strategy diversity, not from any one "correct"
// selector.
package locator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Target names an abstract element the workflow needs, independent of how it
// is concretely located.
type Target string

const (
	TargetLoginIndicator     Target = "login-indicator"
	TargetLoginPrompt        Target = "login-prompt"
	TargetPostAdControl      Target = "post-ad-control"
	TargetCategoryField      Target = "category-field"
	TargetCategorySuggestion Target = "category-suggestion"
	TargetLocationOpen       Target = "location-open"
	TargetLocationLevel1     Target = "location-level-1"
	TargetLocationLevel2     Target = "location-level-2"
	TargetLocationLevel3     Target = "location-level-3"
	TargetLocationContinue   Target = "location-continue"
	TargetTitleField         Target = "title-field"
	TargetDescriptionField   Target = "description-field"
	TargetPriceField         Target = "price-field"
	TargetConditionOpen      Target = "condition-open"
	TargetConditionOption    Target = "condition-option"
	TargetConditionSave      Target = "condition-save"
	TargetPhotoInput         Target = "photo-input"
	TargetSubmitControl      Target = "submit-control"
)

// Kind is the lookup mechanism a strategy uses.
type Kind string

const (
	// ByCSS matches a CSS selector.
	ByCSS Kind = "css"
	// ByText matches elements by visible text, compiled to an XPath query.
	ByText Kind = "text"
	// ByXPath matches a raw XPath expression.
	ByXPath Kind = "xpath"
)

// Strategy is one concrete way of finding a target. Query may contain the
// placeholder "{}", substituted with the runtime value (a county name, a
// condition label) before the lookup runs.
type Strategy struct {
	Kind    Kind          `mapstructure:"kind" json:"kind"`
	Query   string        `mapstructure:"query" json:"query"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

// Compile produces the final query string for the page layer. ByText
// strategies become XPath; the value placeholder is substituted everywhere.
func (s Strategy) Compile(value string) (query string, kind Kind) {
	q := s.Query
	if strings.Contains(q, "{}") {
		switch s.Kind {
		case ByText, ByXPath:
			q = strings.ReplaceAll(q, "{}", xpathLiteralInner(value))
		default:
			q = strings.ReplaceAll(q, "{}", cssEscape(value))
		}
	}
	if s.Kind == ByText {
		return fmt.Sprintf(`//*[contains(normalize-space(.), %s) and not(.//*[contains(normalize-space(.), %s)])]`,
			xpathLiteral(q), xpathLiteral(q)), ByXPath
	}
	return q, s.Kind
}

func (s Strategy) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Query)
}

// Match records which strategy located a target. Downstream actions replay
// the same compiled query against the page.
type Match struct {
	Target Target
	Query  string
	Kind   Kind
}

// NotFoundError reports that every strategy for a target exhausted its
// timeout. Attempted preserves the order tried, for diagnostics.
type NotFoundError struct {
	Target    Target
	Attempted []Strategy
}

func (e *NotFoundError) Error() string {
	tried := make([]string, len(e.Attempted))
	for i, s := range e.Attempted {
		tried[i] = s.String()
	}
	return fmt.Sprintf("locator: target %q not found after %d strategies [%s]",
		e.Target, len(e.Attempted), strings.Join(tried, ", "))
}

// Prober is the minimal page capability the resolver needs: block until an
// element matching the query is visible, or fail.
type Prober interface {
	WaitVisible(ctx context.Context, query string, kind Kind) error
}

// Resolver tries each bound strategy in order. No racing: a later strategy
// only runs after the earlier one has exhausted its timeout.
type Resolver struct {
	bindings       Bindings
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewResolver builds a resolver over the given bindings. Strategies without
// an explicit timeout use defaultTimeout.
func NewResolver(bindings Bindings, defaultTimeout time.Duration, logger *zap.Logger) *Resolver {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Resolver{
		bindings:       bindings,
		defaultTimeout: defaultTimeout,
		logger:         logger.Named("locator"),
	}
}

// StrategiesFor returns a copy of the strategy list bound to a target, for
// callers that probe presence instead of blocking until visible.
func (r *Resolver) StrategiesFor(target Target) []Strategy {
	return append([]Strategy(nil), r.bindings[target]...)
}

// DefaultTimeout is the per-strategy timeout applied when a strategy does not
// carry its own.
func (r *Resolver) DefaultTimeout() time.Duration { return r.defaultTimeout }

// Resolve locates a target with no runtime value.
func (r *Resolver) Resolve(ctx context.Context, page Prober, target Target) (Match, error) {
	return r.ResolveValue(ctx, page, target, "")
}

// ResolveValue locates a target whose strategies reference a runtime value
// (for example the county name inside a location level). Strategies run
// strictly in order; the first visible match wins.
func (r *Resolver) ResolveValue(ctx context.Context, page Prober, target Target, value string) (Match, error) {
	strategies, ok := r.bindings[target]
	if !ok || len(strategies) == 0 {
		return Match{}, fmt.Errorf("locator: no strategies bound for target %q", target)
	}

	for i, s := range strategies {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = r.defaultTimeout
		}
		query, kind := s.Compile(value)

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := page.WaitVisible(attemptCtx, query, kind)
		cancel()

		if err == nil {
			r.logger.Debug("Target resolved",
				zap.String("target", string(target)),
				zap.Int("strategy_index", i),
				zap.String("strategy", s.String()))
			return Match{Target: target, Query: query, Kind: kind}, nil
		}
		if ctx.Err() != nil {
			return Match{}, ctx.Err()
		}
		r.logger.Debug("Strategy missed",
			zap.String("target", string(target)),
			zap.String("strategy", s.String()),
			zap.Error(err))
	}

	return Match{}, &NotFoundError{Target: target, Attempted: append([]Strategy(nil), strategies...)}
}

// xpathLiteral quotes a string for use inside an XPath expression, handling
// embedded quotes via concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// xpathLiteralInner substitutes a value into an already-quoted query, so it
// strips characters that would break out of the surrounding literal.
func xpathLiteralInner(s string) string {
	return strings.NewReplacer(`"`, "", "'", "").Replace(s)
}

// cssEscape strips characters with syntactic meaning in CSS selectors.
func cssEscape(s string) string {
	return strings.NewReplacer(`"`, "", "'", "", "[", "", "]", "", "\\", "").Replace(s)
}
