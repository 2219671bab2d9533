package main

import (
	"strings"
	"testing"

	"github.com/storyloom/core/internal/modules/interview/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderSourceSelection(t *testing.T) {
	opt := &interviewOptions{Command: "arecord -q -f cd -t wav"}
	src, ok := opt.recorderSource().(recorder.CommandSource)
	require.True(t, ok)
	assert.Equal(t, "arecord", src.Name)
	assert.Equal(t, []string{"-q", "-f", "cd", "-t", "wav"}, src.Args)

	opt.Files = []string{"a.wav", "b.wav"}
	_, ok = opt.recorderSource().(*recorder.FileSource)
	assert.True(t, ok)
}

func TestReadLinesTrimsAndCloses(t *testing.T) {
	lines := readLines(strings.NewReader("  q \n\nx\n"))
	var got []string
	for l := range lines {
		got = append(got, l)
	}
	assert.Equal(t, []string{"q", "", "x"}, got)
}

func TestTokenCommandRequiresUser(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"token"})
	assert.Error(t, cmd.Execute())
}
