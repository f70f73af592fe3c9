package locator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProber resolves queries against a fixed set of "visible" elements.
// Queries not in the set block until the per-strategy timeout expires.
type fakeProber struct {
	visible map[string]bool
	calls   []string
}

func (f *fakeProber) WaitVisible(ctx context.Context, query string, kind Kind) error {
	f.calls = append(f.calls, query)
	if f.visible[query] {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestResolveOrderedFallback(t *testing.T) {
	bindings := Bindings{
		TargetTitleField: {
			{Kind: ByCSS, Query: "#old-title", Timeout: 10 * time.Millisecond},
			{Kind: ByCSS, Query: `input[name="title"]`, Timeout: 10 * time.Millisecond},
		},
	}
	page := &fakeProber{visible: map[string]bool{`input[name="title"]`: true}}
	r := NewResolver(bindings, time.Second, zap.NewNop())

	m, err := r.Resolve(context.Background(), page, TargetTitleField)
	require.NoError(t, err)
	assert.Equal(t, `input[name="title"]`, m.Query)
	assert.Equal(t, ByCSS, m.Kind)

	// Strictly ordered: the dead selector was tried first and alone.
	require.Len(t, page.calls, 2)
	assert.Equal(t, "#old-title", page.calls[0])
}

func TestResolveFirstStrategyWinsWithoutTryingRest(t *testing.T) {
	bindings := Bindings{
		TargetPriceField: {
			{Kind: ByCSS, Query: "#price", Timeout: 10 * time.Millisecond},
			{Kind: ByCSS, Query: "input.price", Timeout: 10 * time.Millisecond},
		},
	}
	page := &fakeProber{visible: map[string]bool{"#price": true}}
	r := NewResolver(bindings, time.Second, zap.NewNop())

	m, err := r.Resolve(context.Background(), page, TargetPriceField)
	require.NoError(t, err)
	assert.Equal(t, "#price", m.Query)
	assert.Len(t, page.calls, 1)
}

func TestResolveNotFoundRecordsAttempts(t *testing.T) {
	bindings := Bindings{
		TargetSubmitControl: {
			{Kind: ByCSS, Query: "#submit", Timeout: 5 * time.Millisecond},
			{Kind: ByText, Query: "Post my ad", Timeout: 5 * time.Millisecond},
		},
	}
	page := &fakeProber{visible: map[string]bool{}}
	r := NewResolver(bindings, time.Second, zap.NewNop())

	_, err := r.Resolve(context.Background(), page, TargetSubmitControl)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, TargetSubmitControl, nf.Target)
	require.Len(t, nf.Attempted, 2)
	assert.Equal(t, "css:#submit", nf.Attempted[0].String())
	assert.Contains(t, nf.Error(), "2 strategies")
}

func TestResolveUnboundTarget(t *testing.T) {
	r := NewResolver(Bindings{}, time.Second, zap.NewNop())
	_, err := r.Resolve(context.Background(), &fakeProber{}, TargetPhotoInput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no strategies bound")
}

func TestResolveHonorsCallerCancellation(t *testing.T) {
	bindings := Bindings{
		TargetTitleField: {
			{Kind: ByCSS, Query: "#a", Timeout: time.Minute},
		},
	}
	page := &fakeProber{visible: map[string]bool{}}
	r := NewResolver(bindings, time.Second, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, page, TargetTitleField)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStrategyCompilePlaceholder(t *testing.T) {
	s := Strategy{Kind: ByXPath, Query: `//li[normalize-space(.) = "{}"]`}
	q, kind := s.Compile("Kent")
	assert.Equal(t, ByXPath, kind)
	assert.Equal(t, `//li[normalize-space(.) = "Kent"]`, q)
}

func TestStrategyCompileByText(t *testing.T) {
	s := Strategy{Kind: ByText, Query: "Post an ad"}
	q, kind := s.Compile("")
	assert.Equal(t, ByXPath, kind)
	assert.Contains(t, q, `contains(normalize-space(.), "Post an ad")`)
	// Innermost-match guard keeps the whole body from matching.
	assert.Contains(t, q, "not(.//*")
}

func TestStrategyCompileStripsBreakoutCharacters(t *testing.T) {
	s := Strategy{Kind: ByXPath, Query: `//li[. = "{}"]`}
	q, _ := s.Compile(`Kent" or "1"="1`)
	assert.False(t, strings.Contains(q, `""`), "quotes must not break out of the literal: %s", q)
	assert.Contains(t, q, "Kent or 1=1")
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, `"plain"`, xpathLiteral("plain"))
	assert.Equal(t, `'has "quotes"'`, xpathLiteral(`has "quotes"`))
	assert.Equal(t, `"it's"`, xpathLiteral("it's"))

	mixed := xpathLiteral(`both "and" it's`)
	assert.True(t, strings.HasPrefix(mixed, "concat("))
}

func TestDefaultBindingsCoverEveryTarget(t *testing.T) {
	b := DefaultBindings()
	targets := []Target{
		TargetLoginIndicator, TargetLoginPrompt, TargetPostAdControl,
		TargetCategoryField, TargetCategorySuggestion,
		TargetLocationOpen, TargetLocationLevel1, TargetLocationLevel2,
		TargetLocationLevel3, TargetLocationContinue,
		TargetTitleField, TargetDescriptionField, TargetPriceField,
		TargetConditionOpen, TargetConditionOption, TargetConditionSave,
		TargetPhotoInput, TargetSubmitControl,
	}
	for _, target := range targets {
		assert.NotEmpty(t, b[target], "no strategies for %s", target)
	}
}

func TestMergeReplacesPerTarget(t *testing.T) {
	base := DefaultBindings()
	override := Bindings{
		TargetTitleField: {{Kind: ByCSS, Query: "#custom-title"}},
	}
	merged := Merge(base, override)

	require.Len(t, merged[TargetTitleField], 1)
	assert.Equal(t, "#custom-title", merged[TargetTitleField][0].Query)
	// Untouched targets keep their full fallback chain.
	assert.Equal(t, base[TargetPriceField], merged[TargetPriceField])
	// The base map itself is not mutated.
	assert.NotEqual(t, base[TargetTitleField], merged[TargetTitleField])
}
