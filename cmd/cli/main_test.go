package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandLine(t *testing.T) {
	abs, err := filepath.Abs("order.json")
	require.NoError(t, err)

	assert.Equal(t, "status", commandLine([]string{"status"}))
	assert.Equal(t, "print both "+abs, commandLine([]string{"print", "both", "order.json"}))
	assert.Equal(t, "print kitchen https://pos.example.com/o/1.json",
		commandLine([]string{"print", "kitchen", "https://pos.example.com/o/1.json"}))
	assert.Equal(t, `rename abc "Kitchen Printer"`, commandLine([]string{"rename", "abc", "Kitchen Printer"}))
}

func fakeDaemon(t *testing.T, reply CommandResult, status int) (*httptest.Server, *string) {
	t.Helper()
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/command", r.URL.Path)
		var req struct {
			Command string `json:"command"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = req.Command

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestRootCommand_PrintsResult(t *testing.T) {
	srv, got := fakeDaemon(t, CommandResult{
		Success: true,
		Message: "USB: connected, Bluetooth: disconnected",
		Data: map[string]interface{}{
			"printers": []interface{}{
				map[string]interface{}{"transport": "usb", "status": "connected", "device": "POS58"},
				map[string]interface{}{"transport": "bluetooth", "status": "disconnected"},
			},
		},
	}, http.StatusOK)

	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs([]string{"--server", srv.URL + "/", "status"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "status", *got)
	assert.Contains(t, out.String(), "USB: connected, Bluetooth: disconnected")
	assert.Contains(t, out.String(), "POS58")
	assert.Contains(t, out.String(), "bluetooth")
}

func TestRootCommand_Failure(t *testing.T) {
	srv, _ := fakeDaemon(t, CommandResult{Success: false, Error: "connection cancelled"}, http.StatusBadRequest)

	cmd := newRootCommand(&bytes.Buffer{})
	cmd.SetArgs([]string{"-s", srv.URL, "connect", "usb"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, "connection cancelled", err.Error())
}

func TestRootCommand_RequiresCommand(t *testing.T) {
	cmd := newRootCommand(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestExecuteCommand_Unreachable(t *testing.T) {
	res := executeCommand("http://127.0.0.1:1", "status")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "failed to connect to server")
}
