package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultServerURL = "http://localhost:12212"
)

func main() {
	var serverURL string
	var watch bool
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flag.BoolVar(&watch, "watch", false, "Follow transmission progress until it ends")
	flag.BoolVar(&watch, "w", false, "Follow transmission progress (short)")
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	command := strings.Join(quoteArgs(flag.Args()), " ")
	result := executeCommand(serverURL, command)

	if !result.Success {
		printError(result)
		os.Exit(1)
	}
	printSuccess(result)

	if watch {
		if !watchProgress(serverURL) {
			os.Exit(1)
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `UART Link CLI

Usage:
  uart-cli [flags] <command>

Flags:
  -s, -server <url>    Server URL (default: %s)
  -w, -watch           Follow progress after send/confirm/resume

Commands:
  ports
    List serial ports with their IDs and aliases

  alias <device|id> <name>
    Set a custom name for a port

  connect <device|alias|id> [baud] [--parity None|Odd|Even] [--data-bits N] [--stop-bits N]
    Open a link to the FPGA

  disconnect
    Close the link

  frames <file|url> [--size WxH] [--limit N] [--interval auto|ms]
    Show the UART frames for an image without sending

  send <file|url> [--size WxH] [--interval auto|ms] [--yes]
    Stage an image; --yes starts it immediately

  confirm | cancel | pause | resume | stop
    Control the transmission

  status
    Show session state and progress

  log [since]
    Show transmission log entries

Examples:
  uart-cli ports
  uart-cli connect /dev/ttyUSB0 115200
  uart-cli frames ./face.json --limit 5
  uart-cli -w send ./face.raw --size 64x64 --yes
  uart-cli -s http://localhost:8080 status

`, defaultServerURL)
}

// CommandResult is the /command response. Result data is flattened into the
// top level next to success, message and error.
type CommandResult struct {
	Success bool
	Message string
	Error   string
	Data    map[string]interface{}
}

func (r *CommandResult) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Success, _ = raw["success"].(bool)
	r.Message, _ = raw["message"].(string)
	r.Error, _ = raw["error"].(string)
	delete(raw, "success")
	delete(raw, "message")
	delete(raw, "error")
	r.Data = raw
	return nil
}

func executeCommand(serverURL, command string) *CommandResult {
	url := strings.TrimSuffix(serverURL, "/") + "/command"

	reqBody := map[string]string{
		"command": command,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to marshal request: %v", err),
		}
	}

	resp, err := http.Post(url, "application/json", strings.NewReader(string(jsonData)))
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
			Error:   fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	return &result
}

func printSuccess(result *CommandResult) {
	if result.Message != "" {
		fmt.Println(result.Message)
	}

	data := result.Data

	if ports, ok := data["ports"].([]interface{}); ok {
		fmt.Println(titleStyle.Render("\nPorts:"))
		for _, p := range ports {
			if port, ok := p.(map[string]interface{}); ok {
				alias := ""
				if a, _ := port["alias"].(string); a != "" {
					alias = successStyle.Render(" [" + a + "]")
				}
				fmt.Printf("  %s%s %s %s\n", port["device"], alias,
					mutedStyle.Render(fmt.Sprint(port["description"])),
					mutedStyle.Render(fmt.Sprint(port["id"])))
			}
		}
	}

	if frames, ok := data["uart_frame_preview"].([]interface{}); ok {
		fmt.Println(titleStyle.Render("\nFrames:"))
		for _, f := range frames {
			fmt.Println(frameStyle.Render(fmt.Sprint(f)))
		}
		if total, ok := data["frame_count"].(float64); ok && int(total) > len(frames) {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("  ... %d more", int(total)-len(frames))))
		}
	}

	if entries, ok := data["log"].([]interface{}); ok {
		fmt.Println(titleStyle.Render("\nLog:"))
		for _, e := range entries {
			if entry, ok := e.(map[string]interface{}); ok {
				status := successStyle.Render("ok  ")
				if entry["status"] != "success" {
					status = errorStyle.Render("FAIL")
				}
				fmt.Printf("  %s %6v %-4v %v\n", status, entry["frame_number"], entry["frame_type"], entry["frame_hex"])
			}
		}
	}

	if sess, ok := data["session"].(map[string]interface{}); ok {
		printSession(sess)
	}
}

func printSession(sess map[string]interface{}) {
	state, _ := sess["state"].(string)
	fmt.Printf("%s %s\n", mutedStyle.Render("Session:"), stateStyle(state).Render(state))
	if p, ok := sess["progress"].(map[string]interface{}); ok {
		pct, _ := p["percentage"].(float64)
		fmt.Printf("  %s  %v/%v frames, %v errors\n", progressBar(pct, 30), p["processed"], p["expected"], p["errors"])
	}
	if reason, ok := sess["error"].(string); ok && reason != "" {
		fmt.Println(errorStyle.Render("  " + reason))
	}
}

// watchProgress polls status until the session leaves the active states.
// It reports whether the transmission ended without error.
func watchProgress(serverURL string) bool {
	last := ""
	for {
		result := executeCommand(serverURL, "status")
		if !result.Success {
			printError(result)
			return false
		}

		sess, _ := result.Data["session"].(map[string]interface{})
		state, _ := sess["state"].(string)
		line := state
		if p, ok := sess["progress"].(map[string]interface{}); ok {
			pct, _ := p["percentage"].(float64)
			line = fmt.Sprintf("%s %s", progressBar(pct, 30), stateStyle(state).Render(state))
		}
		if line != last {
			fmt.Printf("\r%s", line)
			last = line
		}

		switch state {
		case "transmitting", "paused", "stopping":
			time.Sleep(250 * time.Millisecond)
		default:
			fmt.Println()
			if reason, _ := sess["error"].(string); reason != "" {
				fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+reason))
			}
			return state != "error"
		}
	}
}

func printError(result *CommandResult) {
	if result.Error != "" {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+result.Error))
	} else if result.Message != "" {
		fmt.Fprintf(os.Stderr, "%s\n", result.Message)
	}
}

// quoteArgs re-quotes arguments containing spaces so the server splits them the
// same way the shell did
func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t") {
			out[i] = `"` + a + `"`
		} else {
			out[i] = a
		}
	}
	return out
}
