package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoNamesGoroutine(t *testing.T) {
	names := make(chan string, 1)
	Go(context.Background(), "radio-events", func(ctx context.Context) { names <- GetName(ctx) })
	select {
	case name := <-names:
		assert.Equal(t, "radio-events", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine MUST run")
	}
	assert.Empty(t, GetName(context.Background()))
}

func TestGoSafeRecovers(t *testing.T) {
	errs := make(chan error, 1)
	GoSafe(context.Background(), "observer-bad", logrus.New(), func(context.Context) {
		panic("boom")
	}, func(err error) { errs <- err })

	select {
	case err := <-errs:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "observer-bad")
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(time.Second):
		t.Fatal("panic MUST be reported")
	}
}
