//go:build test

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/config"
	"github.com/srg/buttond/internal/registry"
	"github.com/srg/buttond/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is written by the console goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.AppSecret = "test-secret"
	cfg.Grab.Inbox = filepath.Join(t.TempDir(), "inbox")
	cfg.Registry.ForgetTimeout = 100 * time.Millisecond
	cfg.Console.Color = "never"
	return cfg
}

func TestDaemonLifecycle(t *testing.T) {
	// GOAL: Verify the daemon restores the catalog, accepts inbox grabs and saves on shutdown
	//
	// TEST SCENARIO: catalog with one pending button → daemon starts and dials it → token dropped in inbox →
	//                second button dialed → context cancelled → catalog holds both buttons

	helper := testutils.NewTestHelper(t)
	cfg := testConfig(t)

	restored := testutils.NewButton("desk")
	data, err := registry.EncodeCatalog([]registry.Record{{Button: restored, Pending: true}})
	require.NoError(t, err)
	st := &testutils.MemoryStore{}
	require.NoError(t, st.Save(context.Background(), data))

	r := testutils.NewFakeRadio()
	out := &syncBuffer{}
	d, err := newDaemon(cfg, helper.Logger, r, st, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	require.Eventually(t, func() bool { return len(r.Connects()) == 1 }, time.Second, 5*time.Millisecond,
		"restored pending button MUST be dialed")
	assert.Equal(t, restored.ID, r.Connects()[0])

	grabbed := uuid.New()
	waitForInbox(t, cfg.Grab.Inbox)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Grab.Inbox, "hall.grab"), []byte(token(grabbed, "hall")), 0o600))
	require.Eventually(t, func() bool { return len(r.Connects()) == 2 }, 2*time.Second, 5*time.Millisecond,
		"grabbed button MUST be dialed")
	assert.Equal(t, grabbed, r.Connects()[1])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon MUST stop after its context is cancelled")
	}

	records, err := registry.DecodeCatalog(st.Data())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, restored.ID, records[0].Button.ID)
	assert.Equal(t, grabbed, records[1].Button.ID)
	assert.Equal(t, button.ClickAndHold, records[1].Button.TriggerBehavior)
	assert.True(t, records[0].Pending && records[1].Pending, "pending intent MUST survive shutdown")

	console := out.String()
	assert.Contains(t, console, "state restored")
	assert.Contains(t, console, "hall did_grab")
}

// waitForInbox waits until the watcher created the inbox directory.
func waitForInbox(t *testing.T, dir string) {
	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return err == nil
	}, time.Second, 5*time.Millisecond, "inbox MUST be created by the watcher")
	// The watch is registered right after MkdirAll.
	time.Sleep(50 * time.Millisecond)
}

func TestDaemonRequiresSecretAndObservers(t *testing.T) {
	helper := testutils.NewTestHelper(t)

	cfg := testConfig(t)
	cfg.AppSecret = ""
	_, err := newDaemon(cfg, helper.Logger, testutils.NewFakeRadio(), &testutils.MemoryStore{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrMissingAppSecret)

	cfg = testConfig(t)
	cfg.Console.Enabled = false
	_, err = newDaemon(cfg, helper.Logger, testutils.NewFakeRadio(), &testutils.MemoryStore{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNoObservers)

	cfg = testConfig(t)
	cfg.Lua.Script = filepath.Join(t.TempDir(), "missing.lua")
	_, err = newDaemon(cfg, helper.Logger, testutils.NewFakeRadio(), &testutils.MemoryStore{}, &bytes.Buffer{})
	assert.Error(t, err, "an unloadable script MUST fail startup")
}

func TestDaemonRejectsCorruptCatalog(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	st := &testutils.MemoryStore{}
	require.NoError(t, st.Save(context.Background(), []byte("version: 9\n")))

	d, err := newDaemon(testConfig(t), helper.Logger, testutils.NewFakeRadio(), st, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Error(t, d.run(context.Background()), "restore failures MUST stop the daemon")
	assert.Equal(t, "version: 9\n", string(st.Data()), "an unreadable catalog MUST NOT be overwritten")
}
