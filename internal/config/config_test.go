package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newDefaultViper())
	require.NoError(t, err)

	assert.Equal(t, "https://www.gumtree.com/", cfg.Target.BaseURL)
	assert.Equal(t, "www.gumtree.com", cfg.Target.Domain)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, "listing_queue.json", cfg.Queue.File)
	assert.Equal(t, "backup_listings", cfg.Queue.BackupDir)
	assert.Equal(t, 0.04, cfg.Humanoid.TypoRate)
	assert.Equal(t, "en-GB", cfg.Fingerprint.Locale)
	assert.Equal(t, 3, cfg.Workflow.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Batch.ItemDelayMin)
	assert.Equal(t, 120*time.Second, cfg.Batch.ItemDelayMax)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadExpandsHomePaths(t *testing.T) {
	v := newDefaultViper()
	v.Set("session.cookies_file", "~/state/cookies.json")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.NotContains(t, cfg.Session.CookiesFile, "~")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  any
	}{
		{"empty base url", "target.base_url", ""},
		{"relative base url", "target.base_url", "gumtree.com"},
		{"empty domain", "target.domain", ""},
		{"negative typo rate", "humanoid.typo_rate", -0.1},
		{"typo rate of one", "humanoid.typo_rate", 1.0},
		{"zero attempts", "workflow.max_attempts", 0},
		{"inverted delay range", "batch.item_delay_min", "300s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newDefaultViper()
			v.Set(tc.key, tc.val)
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}

func TestBindingsOverrideFromConfig(t *testing.T) {
	v := newDefaultViper()
	v.Set("workflow.bindings.title-field", []map[string]any{
		{"kind": "css", "query": "#my-title"},
	})

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Len(t, cfg.Workflow.Bindings["title-field"], 1)
	assert.Equal(t, "#my-title", cfg.Workflow.Bindings["title-field"][0].Query)
}
