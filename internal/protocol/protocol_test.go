package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		line    string
		want    Request
		wantErr bool
	}{
		{line: "START\n", want: Request{Command: CmdStart}},
		{line: "  STOP  ", want: Request{Command: CmdStop}},
		{line: "CANCEL", want: Request{Command: CmdCancel}},
		{line: "STATUS\r\n", want: Request{Command: CmdStatus}},
		{line: "REFRESH", want: Request{Command: CmdRefresh}},
		{line: "REFRESH {language: en}\n", want: Request{Command: CmdRefresh, Payload: "{language: en}"}},
		{line: "stop", wantErr: true},
		{line: "STOP now", wantErr: true},
		{line: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseRequest(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsBareCommand(t *testing.T) {
	for _, in := range []string{"START", "STOP\n", " CANCEL ", "STATUS\r\n"} {
		assert.True(t, IsBareCommand([]byte(in)), "%q", in)
	}
	for _, in := range []string{"", "STAR", "REFRESH", "REFRESH {}", "stop", "STOP now"} {
		assert.False(t, IsBareCommand([]byte(in)), "%q", in)
	}
}
