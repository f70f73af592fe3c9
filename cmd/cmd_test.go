package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel4d/adpost/internal/config"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "post": false, "queue": false, "login": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "subcommand %s not registered", name)
	}
}

func TestQueueSubcommands(t *testing.T) {
	q := newQueueCmd()
	names := make([]string, 0, 3)
	for _, c := range q.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"add", "list", "retry"}, names)
}

func TestQueueAddRequiredFlags(t *testing.T) {
	add := newQueueAddCmd()
	title := add.Flags().Lookup("title")
	require.NotNil(t, title)
	county := add.Flags().Lookup("county")
	require.NotNil(t, county)

	// Required flags carry cobra's annotation.
	assert.NotEmpty(t, title.Annotations)
	assert.NotEmpty(t, county.Annotations)
}

func TestDefaultsSatisfyValidation(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	_, err := config.Load(v)
	assert.NoError(t, err)
}

// The group context only cancels on error, so a cleanly finished batch must
// stop the heartbeat through the done channel or Wait hangs forever.
func TestHeartbeatStopsWhenBatchSucceeds(t *testing.T) {
	g, gctx := errgroup.WithContext(context.Background())
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return nil
	})
	g.Go(func() error {
		heartbeat(gctx, done, time.Millisecond, zap.NewNop(), func() int { return 0 })
		return nil
	})

	finished := make(chan error, 1)
	go func() { finished <- g.Wait() }()

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the batch finished")
	}
}

func TestHeartbeatStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	finished := make(chan struct{})
	go func() {
		heartbeat(ctx, make(chan struct{}), time.Millisecond, zap.NewNop(), func() int { return 0 })
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not exit on context cancellation")
	}
}
