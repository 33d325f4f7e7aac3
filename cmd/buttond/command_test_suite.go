//go:build test

package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs commands against a config and store in a temp dir.
type CommandTestSuite struct {
	suite.Suite
	Dir        string
	ConfigPath string
}

func (s *CommandTestSuite) SetupTest() {
	s.Dir = s.T().TempDir()
	s.ConfigPath = s.WriteConfig(`
store:
  kind: file
  path: ` + filepath.Join(s.Dir, "buttons.yaml") + `
grab:
  inbox: ` + filepath.Join(s.Dir, "inbox") + `
`)

	// Cobra keeps flag values between executions.
	listFormat = "table"
	scanFormat = "table"
	scanDuration = 0
	grabInbox = false
	grabTrigger = ""
}

// WriteConfig stores content as the suite config file and returns its path.
func (s *CommandTestSuite) WriteConfig(content string) string {
	path := filepath.Join(s.Dir, "buttond.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644), "config write MUST succeed")
	return path
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append(args, "--config", s.ConfigPath, "--env-file", filepath.Join(s.Dir, "missing.env")))
	err := cmd.Execute()
	return buf.String(), err
}
