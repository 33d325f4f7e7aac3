//go:build test

package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// NewButton returns a registered-looking button record with a fresh id.
func NewButton(name string) button.Button {
	id := uuid.New()
	return button.Button{
		ID:               id,
		PublicKey:        "0102030405060708090a0b0c0d0e0f10",
		Address:          fmt.Sprintf("80:e4:da:%02x:%02x:%02x", id[0], id[1], id[2]),
		DeviceName:       "F014" + id.String()[:4],
		UserAssignedName: name,
		Color:            button.DefaultColor,
		TriggerBehavior:  button.ClickAndHold,
	}
}

// LoadFixture reads a file relative to the module root.
func LoadFixture(relPath string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	root := wd
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(root)
		if parent == root {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		root = parent
	}

	data, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", relPath, err)
	}
	return string(data), nil
}
