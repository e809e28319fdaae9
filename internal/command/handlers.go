package command

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/thereceipt/uart-link/internal/port"
	"github.com/thereceipt/uart-link/internal/rate"
	"github.com/thereceipt/uart-link/pkg/uartframe"
	"go.uber.org/zap"
)

// handlePorts lists ports with their profile IDs and aliases
// Usage: ports
func (e *Executor) handlePorts(args []string) *Result {
	ports, err := e.manager.ListPorts()
	if err != nil {
		return failure("port detection failed: %v", err)
	}

	list := make([]map[string]interface{}, len(ports))
	for i, p := range ports {
		id := e.registry.ProfileID(p)
		list[i] = map[string]interface{}{
			"id":          id,
			"device":      p.Device,
			"description": p.Description,
			"type":        p.Type,
			"alias":       e.registry.Alias(id),
		}
		if p.VID != "" {
			list[i]["vid"] = p.VID
			list[i]["pid"] = p.PID
			list[i]["serial_number"] = p.SerialNumber
		}
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Found %d port(s)", len(ports)),
		Data:    map[string]interface{}{"ports": list},
	}
}

// handleAlias names a port
// Usage: alias <device|id> <name>
func (e *Executor) handleAlias(args []string) *Result {
	if len(args) < 2 {
		return failure("usage: alias <device|id> <name>")
	}
	ref, name := args[0], args[1]

	id := ""
	if info, ok := e.findPort(ref); ok {
		id = e.registry.ProfileID(info)
	} else if e.registry.Profile(ref) != nil {
		id = ref
	}
	if id == "" || !e.registry.SetAlias(id, name) {
		return failure("port not found: %s", ref)
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Port %s is now %q", ref, name),
		Data:    map[string]interface{}{"id": id, "alias": name},
	}
}

// handleConnect opens a link
// Usage: connect <device|alias|id> [baud] [--parity None|Odd|Even] [--data-bits N] [--stop-bits N]
func (e *Executor) handleConnect(ctx context.Context, args []string) *Result {
	pos, flags := splitFlags(args)
	if len(pos) < 1 {
		return failure("usage: connect <device|alias|id> [baud] [--parity None|Odd|Even] [--data-bits N] [--stop-bits N]")
	}

	device := pos[0]
	if resolved, ok := e.registry.Resolve(device); ok {
		device = resolved
	}

	cfg := e.defaults
	if remembered, ok := e.registry.LinkFor(device); ok {
		cfg = remembered
	}
	cfg.Port = device

	if len(pos) >= 2 {
		baud, err := strconv.Atoi(pos[1])
		if err != nil {
			return failure("invalid baud rate: %s", pos[1])
		}
		cfg.BaudRate = baud
	}
	if v, ok := flags["parity"]; ok {
		parity, err := port.ParseParity(v)
		if err != nil {
			return failure("%v", err)
		}
		cfg.Parity = parity
	}
	for name, dst := range map[string]*int{"data-bits": &cfg.DataBits, "stop-bits": &cfg.StopBits} {
		if v, ok := flags[name]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return failure("invalid %s: %s", name, v)
			}
			*dst = n
		}
	}

	cfg = cfg.WithDefaults()
	if err := e.supervisor.Connect(ctx, cfg); err != nil {
		return failure("%v", err)
	}

	info, ok := e.findPort(device)
	if !ok {
		info = port.PortInfo{Device: device, Type: "serial"}
		if cfg.IsNetwork() {
			info.Type = "network"
		}
	}
	e.registry.RememberLink(info, cfg)

	snap := e.supervisor.Snapshot()
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Connected to %s", cfg),
		Data:    map[string]interface{}{"session": snap, "link": cfg},
	}
}

// handleDisconnect closes the link
// Usage: disconnect
func (e *Executor) handleDisconnect(ctx context.Context) *Result {
	if err := e.supervisor.Disconnect(ctx); err != nil {
		return failure("%v", err)
	}
	return &Result{Success: true, Message: "Disconnected"}
}

// handleFrames encodes an image and shows the frames without sending.
// --out writes every frame as a hex dump.
// Usage: frames <file|url> [--size WxH] [--limit N] [--interval auto|ms] [--out file]
func (e *Executor) handleFrames(args []string) *Result {
	preview, flags, res := e.preview(args, "usage: frames <file|url> [--size WxH] [--limit N] [--interval auto|ms] [--out file]")
	if res != nil {
		return res
	}

	if out, ok := flags["out"]; ok {
		if err := os.WriteFile(out, []byte(uartframe.Dump(preview.Sequence, 0)), 0644); err != nil {
			return failure("failed to write frame dump: %v", err)
		}
		e.logger.Info("frame dump written", zap.String("path", out), zap.Int("frames", len(preview.Sequence)))
	}

	limit := 10
	if v, ok := flags["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return failure("invalid limit: %s", v)
		}
		limit = n
	}

	return &Result{
		Success: true,
		Message: preview.Summary(),
		Data:    preview.Map(limit),
	}
}

// handleSend stages an image for transmission; --yes confirms immediately
// Usage: send <file|url> [--size WxH] [--interval auto|ms] [--yes]
func (e *Executor) handleSend(ctx context.Context, args []string) *Result {
	preview, flags, res := e.preview(args, "usage: send <file|url> [--size WxH] [--interval auto|ms] [--yes]", "yes")
	if res != nil {
		return res
	}

	if err := e.supervisor.Prepare(ctx, preview.Sequence, preview.Rate.Interval()); err != nil {
		return failure("%v", err)
	}

	data := preview.Map(3)
	if flags["yes"] == "true" {
		if err := e.supervisor.Confirm(ctx); err != nil {
			return failure("%v", err)
		}
		data["session"] = e.supervisor.Snapshot()
		return &Result{
			Success: true,
			Message: "Transmission started: " + preview.Summary(),
			Data:    data,
		}
	}

	data["session"] = e.supervisor.Snapshot()
	return &Result{
		Success: true,
		Message: preview.Summary() + ". Run 'confirm' to start or 'cancel' to discard",
		Data:    data,
	}
}

func (e *Executor) preview(args []string, usage string, switches ...string) (*Preview, map[string]string, *Result) {
	pos, flags := splitFlags(args, switches...)
	if len(pos) < 1 {
		return nil, nil, failure("%s", usage)
	}

	mode := rate.Auto()
	if v, ok := flags["interval"]; ok {
		m, err := rate.ParseMode(v)
		if err != nil {
			return nil, nil, failure("%v", err)
		}
		mode = m
	}

	payload, err := LoadPixels(pos[0], flags["size"])
	if err != nil {
		return nil, nil, failure("failed to load pixels: %v", err)
	}

	preview, err := BuildPreview(payload, e.currentBaud(), mode)
	if err != nil {
		return nil, nil, failure("%v", err)
	}

	return preview, flags, nil
}

// handleVerify checks a hex frame dump and recovers the image it carries
// Usage: verify <dump-file>
func (e *Executor) handleVerify(args []string) *Result {
	if len(args) < 1 {
		return failure("usage: verify <dump-file>")
	}

	text, err := os.ReadFile(args[0])
	if err != nil {
		return failure("failed to read frame dump: %v", err)
	}

	seq, err := uartframe.ParseDump(string(text))
	if err != nil {
		return failure("invalid frame dump: %v", err)
	}

	pixels, width, height, err := uartframe.Reassemble(seq)
	if err != nil {
		return failure("frames do not form an image: %v", err)
	}

	info := DataInfo{Width: width, Height: height, PixelStats: uartframe.Stats(pixels)}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("%d valid frames carrying a %dx%d image", len(seq), width, height),
		Data: map[string]interface{}{
			"frame_count": len(seq),
			"data_info":   info,
		},
	}
}

// handleConfirm starts the staged transmission
// Usage: confirm
func (e *Executor) handleConfirm(ctx context.Context) *Result {
	return e.transition("Transmission started", e.supervisor.Confirm(ctx))
}

// handleCancel discards the staged transmission
// Usage: cancel
func (e *Executor) handleCancel() *Result {
	return e.transition("Transmission discarded", e.supervisor.Cancel())
}

// handlePause pauses the running transmission
// Usage: pause
func (e *Executor) handlePause() *Result {
	return e.transition("Transmission paused", e.supervisor.Pause())
}

// handleResume resumes a paused transmission
// Usage: resume
func (e *Executor) handleResume() *Result {
	return e.transition("Transmission resumed", e.supervisor.Resume())
}

// handleStop stops the running transmission
// Usage: stop
func (e *Executor) handleStop(ctx context.Context) *Result {
	return e.transition("Transmission stopped", e.supervisor.Stop(ctx))
}

func (e *Executor) transition(message string, err error) *Result {
	if err != nil {
		return failure("%v", err)
	}
	return &Result{
		Success: true,
		Message: message,
		Data:    map[string]interface{}{"session": e.supervisor.Snapshot()},
	}
}

// handleStatus reports the session and port state
// Usage: status
func (e *Executor) handleStatus() *Result {
	snap := e.supervisor.Snapshot()

	msg := fmt.Sprintf("Session %s: %s", snap.ID, snap.State)
	if snap.Progress != nil {
		msg += fmt.Sprintf(" (%.1f%%, %d/%d frames, %d errors)",
			snap.Progress.Percentage, snap.Progress.Processed, snap.Progress.Expected, snap.Progress.Errors)
	}
	if snap.Reason != "" {
		msg += ": " + snap.Reason
	}

	return &Result{
		Success: true,
		Message: msg,
		Data: map[string]interface{}{
			"session": snap,
			"port":    e.manager.Status(),
		},
	}
}

// handleLog returns transmission log entries
// Usage: log [since]
func (e *Executor) handleLog(ctx context.Context, args []string) *Result {
	since := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return failure("invalid index: %s", args[0])
		}
		since = n
	}

	page, err := e.manager.PollLog(ctx, since)
	if err != nil {
		return failure("%v", err)
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("%d of %d log entries", len(page.Entries), page.Total),
		Data: map[string]interface{}{
			"log":           page.Entries,
			"since":         page.Since,
			"total_entries": page.Total,
		},
	}
}

// handleHelp handles help command
func (e *Executor) handleHelp(args []string) *Result {
	helpText := `Available Commands:

  ports
    List serial ports with their IDs and aliases

  alias <device|id> <name>
    Set a custom name for a port

  connect <device|alias|id> [baud] [--parity None|Odd|Even] [--data-bits N] [--stop-bits N]
    Open a link (defaults: last settings used on that port, else 115200 8N1)

  disconnect
    Close the link and reset the session

  frames <file|url> [--size WxH] [--limit N] [--interval auto|ms] [--out file]
    Encode an image and show its UART frames without sending; --out saves a hex dump

  verify <dump-file>
    Check a hex frame dump and report the image it carries

  send <file|url> [--size WxH] [--interval auto|ms] [--yes]
    Stage an image for transmission; --yes skips confirmation

  confirm | cancel
    Start or discard the staged transmission

  pause | resume | stop
    Control the running transmission

  status
    Show session state and progress

  log [since]
    Show transmission log entries from index since

  help
    Show this help message

Image files are JSON {"width":W,"height":H,"array":[...]} or raw 8-bit grayscale (needs --size).

Examples:
  connect /dev/ttyUSB0 115200
  connect fpga-left --parity Even
  frames ./face.json --limit 5 --out face.frames
  verify face.frames
  send ./face.raw --size 64x64 --interval auto
  log 100
`

	return &Result{
		Success: true,
		Message: helpText,
	}
}

// findPort looks a port up by device path or profile ID
func (e *Executor) findPort(ref string) (port.PortInfo, bool) {
	ports, err := e.manager.ListPorts()
	if err != nil {
		return port.PortInfo{}, false
	}
	for _, p := range ports {
		if p.Device == ref || strings.EqualFold(e.registry.ProfileID(p), ref) {
			return p, true
		}
	}
	return port.PortInfo{}, false
}

func (e *Executor) currentBaud() int {
	if snap := e.supervisor.Snapshot(); snap.Link != nil {
		return snap.Link.BaudRate
	}
	if link, ok := e.supervisor.LastLink(); ok {
		return link.BaudRate
	}
	if e.defaults.BaudRate > 0 {
		return e.defaults.BaudRate
	}
	return port.DefaultBaudRate
}
