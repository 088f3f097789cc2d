package relay

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteArray_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteArray
		wantErr string
	}{
		{name: "number array", input: `[27,64,10]`, want: ByteArray{27, 64, 10}},
		{name: "base64", input: `"G0AK"`, want: ByteArray{27, 64, 10}},
		{name: "empty", input: `[]`, want: ByteArray{}},
		{name: "out of range", input: `[1,256]`, wantErr: "bytes[1]: 256 out of range"},
		{name: "negative", input: `[-1]`, wantErr: "out of range"},
		{name: "bad base64", input: `"!!"`, wantErr: "invalid base64"},
		{name: "object", input: `{"a":1}`, wantErr: "bytes:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ByteArray
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("bytes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestByteArray_MarshalAsNumbers(t *testing.T) {
	data, err := json.Marshal(PrintRaw{JobID: "r1", Target: "usb", Bytes: ByteArray{0x1b, 0x40}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobId":"r1","target":"usb","bytes":[27,64]}`, string(data))
}

func TestPeekJobID(t *testing.T) {
	assert.Equal(t, "j7", peekJobID(json.RawMessage(`{"jobId":"j7","input":42}`)))
	assert.Equal(t, "", peekJobID(json.RawMessage(`[1,2]`)))
	assert.Equal(t, "", peekJobID(nil))
}

func TestEncodeMessage(t *testing.T) {
	msg, err := encodeMessage(EventPrintJobResult, PrintJobResult{JobID: "j1", Success: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"print:job:result","data":{"jobId":"j1","success":true}}`, string(msg))
}

func TestNATSDialer_Subjects(t *testing.T) {
	d := &NATSDialer{Subject: "cafeprint.terminals", TerminalID: "front-1"}
	in, out := d.subjects()
	assert.Equal(t, "cafeprint.terminals.front-1.in", in)
	assert.Equal(t, "cafeprint.terminals.front-1.out", out)
}
