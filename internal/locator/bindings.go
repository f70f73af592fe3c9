package locator

// Bindings maps each logical target to its ordered strategy list. The binding
// is configuration, not core logic: the resolver and the workflow never
// inspect queries, so a markup change on the remote site is absorbed here.
type Bindings map[Target][]Strategy

// DefaultBindings carries the strategy lists observed to work against the
// target site's current markup. Order matters: the most specific, most stable
// selector first, visible-text matching last as the broadest fallback.
func DefaultBindings() Bindings {
	return Bindings{
		TargetLoginIndicator: {
			{Kind: ByCSS, Query: `[data-testid="user-menu"]`},
			{Kind: ByCSS, Query: `[data-testid="account-menu"]`},
			{Kind: ByCSS, Query: `a[href*="/my-account"]`},
			{Kind: ByCSS, Query: `a[href*="/manage-ads"]`},
		},
		TargetLoginPrompt: {
			{Kind: ByCSS, Query: `a[href*="/login"]`},
			{Kind: ByText, Query: "Login"},
			{Kind: ByText, Query: "Sign in"},
		},
		TargetPostAdControl: {
			{Kind: ByCSS, Query: `[data-testid="post-ad-button"]`},
			{Kind: ByXPath, Query: `//button[contains(normalize-space(.), "Post an ad")]`},
			{Kind: ByText, Query: "Post an ad"},
		},
		TargetCategoryField: {
			{Kind: ByCSS, Query: `#post-ad_title-suggestion`},
			{Kind: ByCSS, Query: `input[name="categorySuggestion"]`},
		},
		TargetCategorySuggestion: {
			{Kind: ByCSS, Query: `button [data-testid="category-display-name"]`},
			{Kind: ByCSS, Query: `[data-testid="category-display-name"]`},
			{Kind: ByCSS, Query: `.category-suggestion:first-child button`},
		},
		TargetLocationOpen: {
			{Kind: ByText, Query: "Select your location"},
			{Kind: ByText, Query: "Select location"},
		},
		TargetLocationLevel1: {
			{Kind: ByText, Query: "{}"},
		},
		TargetLocationLevel2: {
			{Kind: ByText, Query: "{}"},
		},
		TargetLocationLevel3: {
			{Kind: ByText, Query: "{}"},
		},
		TargetLocationContinue: {
			{Kind: ByCSS, Query: `#locationIdBtn`},
			{Kind: ByCSS, Query: `a[data-q="location-browser-continue-btn"]`},
			{Kind: ByText, Query: "Continue"},
		},
		TargetTitleField: {
			{Kind: ByCSS, Query: `[data-testid="ad-title-input"]`},
			{Kind: ByCSS, Query: `input[name="title"]`},
		},
		TargetDescriptionField: {
			{Kind: ByCSS, Query: `[data-testid="description-textarea"]`},
			{Kind: ByCSS, Query: `textarea[name="description"]`},
		},
		TargetPriceField: {
			{Kind: ByCSS, Query: `#price`},
			{Kind: ByCSS, Query: `input[name="price"]`},
		},
		TargetConditionOpen: {
			{Kind: ByText, Query: "Select your Condition"},
		},
		TargetConditionOption: {
			{Kind: ByText, Query: "{}"},
		},
		TargetConditionSave: {
			{Kind: ByText, Query: "Save"},
		},
		TargetPhotoInput: {
			{Kind: ByCSS, Query: `input[type="file"]`},
			{Kind: ByCSS, Query: `[data-testid="image-upload-input"]`},
		},
		TargetSubmitControl: {
			{Kind: ByCSS, Query: `#submit-button-2`},
			{Kind: ByText, Query: "Post my Ad"},
		},
	}
}

// Merge overlays override strategy lists onto base. A target present in
// overrides replaces the base list wholesale, so a config file can retarget
// one control without restating the rest.
func Merge(base, overrides Bindings) Bindings {
	out := make(Bindings, len(base))
	for t, s := range base {
		out[t] = s
	}
	for t, s := range overrides {
		out[t] = s
	}
	return out
}
