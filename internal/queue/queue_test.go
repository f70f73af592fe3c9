package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/listing"
)

func testListing(title string) listing.Listing {
	l := listing.New(title, "description", 1000)
	l.Location = listing.Location{Country: "England", County: "Kent"}
	return l
}

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.json")
	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	return s, path
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s, _ := openTestStore(t)
	assert.Empty(t, s.Snapshot())
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, os.WriteFile(path, []byte("[{broken"), 0o600))

	_, err := Open(path, zap.NewNop())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestAddPersistsImmediately(t *testing.T) {
	s, path := openTestStore(t)
	l := testListing("Sofa")
	require.NoError(t, s.Add(l))

	// A fresh store over the same file sees the listing: every mutation
	// writes through.
	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	got, err := reopened.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sofa", got.Title)
	assert.Equal(t, listing.StatusPending, got.Status)
}

func TestAddRejectsDuplicateID(t *testing.T) {
	s, _ := openTestStore(t)
	l := testListing("Sofa")
	require.NoError(t, s.Add(l))
	assert.Error(t, s.Add(l))
}

func TestAddRejectsInvalidListing(t *testing.T) {
	s, _ := openTestStore(t)
	bad := testListing("Sofa")
	bad.Title = ""
	assert.Error(t, s.Add(bad))
	assert.Empty(t, s.Snapshot())
}

func TestUpdateStatusLifecycle(t *testing.T) {
	s, path := openTestStore(t)
	l := testListing("Bike")
	require.NoError(t, s.Add(l))

	require.NoError(t, s.UpdateStatus(l.ID, listing.StatusProcessing, nil))
	got, err := s.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)

	lerr := &listing.Error{Kind: listing.ErrLocatorNotFound, State: "fill_content", Message: "title field gone"}
	require.NoError(t, s.UpdateStatus(l.ID, listing.StatusFailed, lerr))

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	got, err = reopened.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, listing.ErrLocatorNotFound, got.LastError.Kind)
}

func TestUpdateStatusRollsBackOnPersistFailure(t *testing.T) {
	s, path := openTestStore(t)
	l := testListing("Bike")
	require.NoError(t, s.Add(l))

	before, err := s.Get(l.ID)
	require.NoError(t, err)

	// A non-empty directory squatting on the document path makes the
	// rename step of the rewrite fail for any user.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o755))

	err = s.UpdateStatus(l.ID, listing.StatusProcessing, nil)
	require.Error(t, err)

	// The in-memory item carries none of the half-applied mutation.
	after, err := s.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Attempts, after.Attempts)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Nil(t, after.LastError)
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	s, _ := openTestStore(t)
	l := testListing("Bike")
	require.NoError(t, s.Add(l))

	// Pending cannot jump straight to completed.
	err := s.UpdateStatus(l.ID, listing.StatusCompleted, nil)
	require.Error(t, err)

	got, err := s.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
}

func TestUpdateStatusUnknownID(t *testing.T) {
	s, _ := openTestStore(t)
	err := s.UpdateStatus("nope", listing.StatusProcessing, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompletedClearsLastError(t *testing.T) {
	s, _ := openTestStore(t)
	l := testListing("Desk")
	require.NoError(t, s.Add(l))

	require.NoError(t, s.UpdateStatus(l.ID, listing.StatusProcessing, nil))
	require.NoError(t, s.UpdateStatus(l.ID, listing.StatusFailed,
		&listing.Error{Kind: listing.ErrNetworkTimeout, State: "navigate", Message: "slow"}))
	require.NoError(t, s.ResetFailed(l.ID))
	require.NoError(t, s.UpdateStatus(l.ID, listing.StatusProcessing, nil))
	require.NoError(t, s.UpdateStatus(l.ID, listing.StatusCompleted, nil))

	got, err := s.Get(l.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastError)
	assert.Equal(t, 2, got.Attempts)
}

func TestResetFailedOnlyTouchesFailed(t *testing.T) {
	s, _ := openTestStore(t)
	l := testListing("Desk")
	require.NoError(t, s.Add(l))

	assert.Error(t, s.ResetFailed(l.ID), "pending listings cannot be reset")
	assert.ErrorIs(t, s.ResetFailed("missing"), ErrNotFound)
}

func TestPendingPreservesQueueOrder(t *testing.T) {
	s, _ := openTestStore(t)
	first := testListing("First")
	second := testListing("Second")
	third := testListing("Third")
	for _, l := range []listing.Listing{first, second, third} {
		require.NoError(t, s.Add(l))
	}
	require.NoError(t, s.UpdateStatus(second.ID, listing.StatusProcessing, nil))
	require.NoError(t, s.UpdateStatus(second.ID, listing.StatusCompleted, nil))

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, third.ID, pending[1].ID)
}

func TestSnapshotIsADeepCopy(t *testing.T) {
	s, _ := openTestStore(t)
	l := testListing("Shelf")
	l.Photos = []string{"a.jpg"}
	require.NoError(t, s.Add(l))

	snap := s.Snapshot()
	snap[0].Photos[0] = "mutated.jpg"
	snap[0].Title = "mutated"

	got, err := s.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shelf", got.Title)
	assert.Equal(t, []string{"a.jpg"}, got.Photos)
}

func TestSubscribeSeesPersistedTransitions(t *testing.T) {
	s, _ := openTestStore(t)
	l := testListing("Lamp")
	require.NoError(t, s.Add(l))

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	require.NoError(t, s.UpdateStatus(l.ID, listing.StatusProcessing, nil))
	require.NoError(t, s.UpdateStatus(l.ID, listing.StatusCompleted, nil))

	require.Len(t, events, 2)
	assert.Equal(t, listing.StatusPending, events[0].From)
	assert.Equal(t, listing.StatusProcessing, events[0].To)
	assert.Equal(t, listing.StatusCompleted, events[1].To)
	assert.Equal(t, l.ID, events[1].ID)
}
