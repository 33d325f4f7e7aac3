//go:build test

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/grab"
	"github.com/srg/buttond/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type CatalogCommandsTestSuite struct {
	CommandTestSuite
}

func token(id uuid.UUID, name string) string {
	return "buttond://grab?button=" + id.String() + "&key=0102030405060708090a0b0c0d0e0f10&name=" + name + "&addr=80:e4:da:00:00:01"
}

func (s *CatalogCommandsTestSuite) TestGrabListForget() {
	// GOAL: Verify offline catalog edits round trip through the store
	//
	// TEST SCENARIO: grab → list table → list json → duplicate grab fails → forget → forget again fails

	id := uuid.New()
	out, err := s.ExecuteCommand(rootCmd, "grab", token(id, "F023"), "--trigger", "click_and_double_click")
	s.Require().NoError(err)
	s.Contains(out, "Grabbed F023 ("+id.String()+")")

	out, err = s.ExecuteCommand(rootCmd, "list")
	s.Require().NoError(err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 2, "list MUST print a header and one row")
	s.Equal([]string{"NAME", "ID", "ADDRESS", "TRIGGER", "PRESSES", "PENDING"}, strings.Fields(lines[0]))
	s.Equal([]string{"F023", id.String(), "80:e4:da:00:00:01", "click_and_double_click", "0", "true"}, strings.Fields(lines[1]))

	out, err = s.ExecuteCommand(rootCmd, "list", "--format", "json")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).WithOptions(testutils.WithIgnoreExtraKeys(false)).Assert(out, `[{
		"id": "`+id.String()+`",
		"name": "F023",
		"address": "80:e4:da:00:00:01",
		"color": "#ffffff",
		"trigger_behavior": "click_and_double_click",
		"press_count": 0,
		"pending": true
	}]`)

	_, err = s.ExecuteCommand(rootCmd, "grab", token(id, "F023"))
	s.ErrorIs(err, button.ErrAlreadyGrabbed, "grabbing twice MUST fail")
	s.Contains(FormatUserError(err), "buttond forget")

	out, err = s.ExecuteCommand(rootCmd, "forget", id.String())
	s.Require().NoError(err)
	s.Contains(out, "Forgot F023")

	_, err = s.ExecuteCommand(rootCmd, "forget", id.String())
	s.ErrorIs(err, button.ErrUnknownButton, "forgetting an unknown button MUST fail")

	out, err = s.ExecuteCommand(rootCmd, "list")
	s.Require().NoError(err)
	s.Contains(out, "No buttons grabbed.")
}

func (s *CatalogCommandsTestSuite) TestGrabValidation() {
	_, err := s.ExecuteCommand(rootCmd, "grab", "buttond://grab?button=nope")
	s.ErrorIs(err, button.ErrHandoffRejected)

	_, err = s.ExecuteCommand(rootCmd, "grab", "buttond://grab?error=10")
	s.ErrorIs(err, button.ErrAlreadyGrabbed, "companion error codes MUST map to their kind")

	_, err = s.ExecuteCommand(rootCmd, "grab", token(uuid.New(), "F023"), "--trigger", "triple")
	s.Error(err, "unknown trigger behavior MUST be rejected")

	_, err = s.ExecuteCommand(rootCmd, "forget", "not-an-id")
	s.Error(err)

	_, err = s.ExecuteCommand(rootCmd, "list", "--format", "xml")
	s.Error(err)
}

func (s *CatalogCommandsTestSuite) TestGrabInbox() {
	id := uuid.New()
	out, err := s.ExecuteCommand(rootCmd, "grab", "--inbox", token(id, "F023"))
	s.Require().NoError(err)
	s.Contains(out, "Queued grab of "+id.String())

	inbox := filepath.Join(s.Dir, "inbox")
	entries, err := os.ReadDir(inbox)
	s.Require().NoError(err)
	s.Require().Len(entries, 1, "inbox MUST hold exactly the token file")
	s.True(strings.HasSuffix(entries[0].Name(), grab.InboxSuffix))

	data, err := os.ReadFile(filepath.Join(inbox, entries[0].Name()))
	s.Require().NoError(err)
	s.Equal(token(id, "F023"), string(data))

	_, err = os.Stat(filepath.Join(s.Dir, "buttons.yaml"))
	s.True(os.IsNotExist(err), "inbox handoff MUST NOT touch the catalog")
}

func (s *CatalogCommandsTestSuite) TestGrabRequest() {
	out, err := s.ExecuteCommand(rootCmd, "grab", "request")
	s.Require().NoError(err)
	s.Equal("flic://request-grab?callback=buttond%3A%2F%2Fgrab\n", out)
}

func (s *CatalogCommandsTestSuite) TestInvalidConfig() {
	s.WriteConfig("store:\n  kind: redis\n")
	_, err := s.ExecuteCommand(rootCmd, "list")
	s.ErrorContains(err, "store.kind")
}

func TestCatalogCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(CatalogCommandsTestSuite))
}
