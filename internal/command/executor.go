// Package command provides the text command system shared by the HTTP API, the
// WebSocket hub and the CLI
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/thereceipt/uart-link/internal/port"
	"github.com/thereceipt/uart-link/internal/registry"
	"github.com/thereceipt/uart-link/internal/session"
	"go.uber.org/zap"
)

// Executor executes commands
type Executor struct {
	manager    *port.Manager
	supervisor *session.Supervisor
	registry   *registry.Registry
	defaults   port.LinkConfig
	logger     *zap.Logger
}

// NewExecutor creates a new command executor. defaults fills link fields a connect
// command leaves out when the registry has nothing remembered for the port.
func NewExecutor(manager *port.Manager, supervisor *session.Supervisor, reg *registry.Registry, defaults port.LinkConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		manager:    manager,
		supervisor: supervisor,
		registry:   reg,
		defaults:   defaults,
		logger:     logger.Named("command"),
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

	command := strings.ToLower(parts[0])
	args := parts[1:]
	e.logger.Debug("executing command", zap.String("command", command), zap.Strings("args", args))

	switch command {
	case "ports":
		return e.handlePorts(args)
	case "alias":
		return e.handleAlias(args)
	case "connect":
		return e.handleConnect(ctx, args)
	case "disconnect":
		return e.handleDisconnect(ctx)
	case "frames":
		return e.handleFrames(args)
	case "verify":
		return e.handleVerify(args)
	case "send":
		return e.handleSend(ctx, args)
	case "confirm":
		return e.handleConfirm(ctx)
	case "cancel":
		return e.handleCancel()
	case "pause":
		return e.handlePause()
	case "resume":
		return e.handleResume()
	case "stop":
		return e.handleStop(ctx)
	case "status":
		return e.handleStatus()
	case "log":
		return e.handleLog(ctx, args)
	case "help":
		return e.handleHelp(args)
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

// splitFlags separates positional arguments from --name value / --name=value flags.
// Names listed in switches take no value.
func splitFlags(args []string, switches ...string) ([]string, map[string]string) {
	isSwitch := make(map[string]bool, len(switches))
	for _, s := range switches {
		isSwitch[s] = true
	}

	var positional []string
	flags := make(map[string]string)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		if k, v, ok := strings.Cut(name, "="); ok {
			flags[k] = v
			continue
		}
		if isSwitch[name] || i+1 >= len(args) {
			flags[name] = "true"
			continue
		}
		flags[name] = args[i+1]
		i++
	}

	return positional, flags
}
