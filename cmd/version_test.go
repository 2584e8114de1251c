package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/jhcourtney/lectern/lectern"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := lectern.Version
	originalCommitSHA := lectern.CommitSHA
	originalBuildTime := lectern.BuildTime

	t.Cleanup(
		func() {
			lectern.Version = originalVersion
			lectern.CommitSHA = originalCommitSHA
			lectern.BuildTime = originalBuildTime
		},
	)

	lectern.Version = "1.0.0"
	lectern.CommitSHA = "abc123"
	lectern.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		lectern.Version,
		lectern.CommitSHA,
		lectern.BuildTime,
	)
	assert.Equal(t, expected, output)
}
