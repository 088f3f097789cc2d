// Command cafeprint sends text commands to a running cafeprintd
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:12212"

// CommandResult mirrors the /command response
type CommandResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "cafeprint [flags] <command>",
		Short: "Control the café printing daemon",
		Long: `Sends a command to cafeprintd. Run "cafeprint help" for the command list.

Examples:
  cafeprint status
  cafeprint connect bluetooth
  cafeprint print both ./order-1042.json
  cafeprint rename 6f1c2a9e "Kitchen Printer"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := executeCommand(serverURL, commandLine(args))
			if !result.Success {
				return fmt.Errorf("%s", result.Error)
			}
			printResult(out, result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&serverURL, "server", "s", defaultServerURL, "server URL")
	return cmd
}

// commandLine rebuilds the command string. The daemon reads order files
// itself, so local paths are made absolute and arguments with spaces are
// quoted again.
func commandLine(args []string) string {
	parts := make([]string, len(args))
	copy(parts, args)

	if len(parts) == 3 && parts[0] == "print" && !isURL(parts[2]) {
		if abs, err := filepath.Abs(parts[2]); err == nil {
			parts[2] = abs
		}
	}

	for i, p := range parts {
		if strings.ContainsAny(p, " \t") {
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, " ")
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func executeCommand(serverURL, command string) *CommandResult {
	url := strings.TrimSuffix(serverURL, "/") + "/command"

	jsonData, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to marshal request: %v", err),
		}
	}

	// Connecting waits for the operator to pick a device
	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Post(url, "application/json", strings.NewReader(string(jsonData)))
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to connect to server: %v", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to read response: %v", err),
		}
	}

	var result CommandResult
	if err := json.Unmarshal(body, &result); err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to parse response (HTTP %d): %v", resp.StatusCode, err),
		}
	}

	return &result
}

func printResult(out io.Writer, result *CommandResult) {
	if result.Message != "" {
		fmt.Fprintln(out, result.Message)
	}

	if printers, ok := result.Data["printers"].([]interface{}); ok {
		fmt.Fprintln(out, "\nPrinters:")
		for _, p := range printers {
			if state, ok := p.(map[string]interface{}); ok {
				line := fmt.Sprintf("  %-10s %s", state["transport"], state["status"])
				if device, ok := state["device"].(string); ok && device != "" {
					line += "  " + device
				}
				fmt.Fprintln(out, line)
			}
		}
	}

	if devices, ok := result.Data["devices"].([]interface{}); ok {
		fmt.Fprintln(out, "\nDevices:")
		for _, d := range devices {
			if device, ok := d.(map[string]interface{}); ok {
				granted := ""
				if device["granted"] == true {
					granted = " [granted]"
				}
				fmt.Fprintf(out, "  %s: %s (%s)%s\n", device["id"], device["name"], device["type"], granted)
			}
		}
	}

	if _, ok := result.Data["kitchen"]; ok {
		fmt.Fprintf(out, "Receipt: %v, Kitchen: %v\n", result.Data["receipt"], result.Data["kitchen"])
	}
}
