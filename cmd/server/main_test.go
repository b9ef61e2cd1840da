package main

import (
	"bytes"
	"testing"

	"relay/internal/services/collaboration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModes(t *testing.T) {
	tests := []struct {
		in      string
		want    []collaboration.Mode
		wantErr bool
	}{
		{"chat", []collaboration.Mode{collaboration.ModeChat}, false},
		{"document", []collaboration.Mode{collaboration.ModeDocument}, false},
		{"both", []collaboration.Mode{collaboration.ModeChat, collaboration.ModeDocument}, false},
		{"", []collaboration.Mode{collaboration.ModeChat, collaboration.ModeDocument}, false},
		{"whiteboard", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseModes(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "relay dev (none)\n", out.String())
}

func TestServeCmd_RejectsUnknownMode(t *testing.T) {
	cmd := serveCmd()
	cmd.SetArgs([]string{"--mode", "whiteboard"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
