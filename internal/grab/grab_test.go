//go:build test

package grab_test

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/grab"
	"github.com/srg/buttond/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenID = "6f1c2a44-8d0e-4a53-9a51-0b5f51c3b0a1"

func TestParseToken(t *testing.T) {
	t.Run("full token", func(t *testing.T) {
		b, err := grab.ParseToken("buttond://grab?button=" + tokenID + "&key=pk1&name=F023abc&user_name=Desk&color=%23FF0000&addr=80:e4:da:70:11:22")
		require.NoError(t, err)
		assert.Equal(t, tokenID, b.ID.String())
		assert.Equal(t, "pk1", b.PublicKey)
		assert.Equal(t, "F023abc", b.DeviceName)
		assert.Equal(t, "Desk", b.UserAssignedName)
		assert.Equal(t, "#ff0000", b.Color)
		assert.Equal(t, "80:e4:da:70:11:22", b.Address)
		assert.Equal(t, button.ClickAndHold, b.TriggerBehavior, "new buttons MUST default to ClickAndHold")
	})

	t.Run("color defaults to white", func(t *testing.T) {
		b, err := grab.ParseToken("buttond:grab?button=" + tokenID + "&key=pk1")
		require.NoError(t, err)
		assert.Equal(t, button.DefaultColor, b.Color)
	})

	t.Run("malformed tokens are rejected", func(t *testing.T) {
		for name, raw := range map[string]string{
			"no scheme":      "grab?button=" + tokenID + "&key=pk1",
			"wrong action":   "buttond://forget?button=" + tokenID + "&key=pk1",
			"bad id":         "buttond://grab?button=nope&key=pk1",
			"missing key":    "buttond://grab?button=" + tokenID,
			"bad color":      "buttond://grab?button=" + tokenID + "&key=pk1&color=red",
			"bad error code": "buttond://grab?error=x",
			"garbage":        "%%%",
		} {
			_, err := grab.ParseToken(raw)
			assert.ErrorIs(t, err, button.ErrHandoffRejected, "%s MUST be rejected", name)
		}
	})

	t.Run("companion error maps to its kind", func(t *testing.T) {
		_, err := grab.ParseToken("buttond://grab?error=10")
		assert.ErrorIs(t, err, button.ErrAlreadyGrabbed, "ButtonIsPrivate MUST surface as AlreadyGrabbed")

		_, err = grab.ParseToken("buttond://grab?error=2")
		assert.ErrorIs(t, err, button.ErrConnectionFailed)
	})
}

func TestRequestURL(t *testing.T) {
	u, err := url.Parse(grab.RequestURL("", "buttond"))
	require.NoError(t, err)
	assert.Equal(t, grab.DefaultCompanion, u.Scheme)
	assert.Equal(t, "request-grab", u.Host)
	assert.Equal(t, "buttond://grab", u.Query().Get("callback"))
}

func TestWatchInbox(t *testing.T) {
	logger := testutils.NewTestHelper(t).Logger
	dir := t.TempDir()

	// GOAL: Verify existing and newly dropped token files are each handled once and removed
	//
	// TEST SCENARIO: one token present before start → one written after → one junk file → two buttons, one rejection

	existing := filepath.Join(dir, "a"+grab.InboxSuffix)
	require.NoError(t, os.WriteFile(existing, []byte("buttond://grab?button="+tokenID+"&key=pk1"), 0o600))

	var mu sync.Mutex
	var got []button.Button
	var rejected []error
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- grab.WatchInbox(ctx, dir, logger, func(_ context.Context, b button.Button, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected = append(rejected, err)
				return
			}
			got = append(got, b)
		})
	}()

	count := func() (int, int) {
		mu.Lock()
		defer mu.Unlock()
		return len(got), len(rejected)
	}
	require.True(t, testutils.WaitFor(2*time.Second, func() bool { n, _ := count(); return n == 1 }), "existing token MUST be handled")

	// Write under a temporary name and rename so the watcher never sees a partial file.
	second := "buttond://grab?button=0b8f27a3-18cc-4c5e-9d6a-2f3c3b8a9e10&key=pk2"
	tmp := filepath.Join(dir, "b.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(second), 0o600))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "b"+grab.InboxSuffix)))

	tmp = filepath.Join(dir, "c.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("junk"), 0o600))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "c"+grab.InboxSuffix)))

	require.True(t, testutils.WaitFor(2*time.Second, func() bool { n, r := count(); return n == 2 && r == 1 }),
		"new tokens MUST be handled")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "handled tokens MUST be removed")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WatchInbox MUST return after cancel")
	}
}
