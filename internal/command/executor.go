// Package command provides the text command system shared by the HTTP
// /command endpoint and the CLI
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/thereceipt/cafeprint/internal/dispatch"
	"github.com/thereceipt/cafeprint/internal/registry"
	"github.com/thereceipt/cafeprint/pkg/receiptformat"
)

// Router is the printing surface commands act on
type Router interface {
	Status() dispatch.Status
	Printers() []dispatch.PrinterState
	Connect(ctx context.Context, transport string) error
	Disconnect(transport string) error
	TestPrint(ctx context.Context, transport string) error
	PrintReceipt(ctx context.Context, in *receiptformat.BuildInput) error
	PrintKitchenOrder(ctx context.Context, in *receiptformat.BuildInput) error
	PrintBoth(ctx context.Context, in *receiptformat.BuildInput) dispatch.BothResult
	OpenDrawer(ctx context.Context) error
}

// Executor executes commands
type Executor struct {
	router   Router
	registry *registry.Registry
}

// NewExecutor creates a new command executor
func NewExecutor(router Router, reg *registry.Registry) *Executor {
	return &Executor{
		router:   router,
		registry: reg,
	}
}

// Result represents the result of executing a command
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func failure(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Execute executes a command string and returns a result
func (e *Executor) Execute(ctx context.Context, cmdStr string) *Result {
	parts := parseCommand(cmdStr)
	if len(parts) == 0 {
		return failure("empty command")
	}

	command := parts[0]
	args := parts[1:]

	switch command {
	case "status":
		return e.handleStatus()
	case "connect":
		return e.handleConnect(ctx, args)
	case "disconnect":
		return e.handleDisconnect(args)
	case "test":
		return e.handleTest(ctx, args)
	case "print":
		return e.handlePrint(ctx, args)
	case "drawer":
		return e.handleDrawer(ctx)
	case "devices":
		return e.handleDevices()
	case "rename":
		return e.handleRename(args)
	case "help":
		return e.handleHelp()
	default:
		return failure("unknown command: %s. Type 'help' for available commands", command)
	}
}

// parseCommand parses a command string into parts, handling quoted strings
func parseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := byte(0)

	for i := 0; i < len(cmdStr); i++ {
		char := cmdStr[i]

		switch {
		case char == '"' || char == '\'':
			if !inQuotes {
				inQuotes = true
				quoteChar = char
			} else if char == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else {
				current.WriteByte(char)
			}
		case (char == ' ' || char == '\t') && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(char)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
