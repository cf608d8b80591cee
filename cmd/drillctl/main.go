package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// drillctl - Command-line IPC Client
// ============================================================================
// Sends events to the drillbeat daemon over its unix socket.
//
// Usage:
//   drillctl toggle
//   drillctl volume 0.6
//   drillctl wait 1.5
//   drillctl load ~/drills/rifle.yaml
//   drillctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/drillbeat.sock)
// ============================================================================

const (
	defaultSocketPath = "/tmp/drillbeat.sock"
	dialTimeout       = 2 * time.Second
	replyTimeout      = 5 * time.Second
)

// Envelope is the daemon's wire format (duplicated from the daemon for a
// standalone binary).
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response.
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

var errHelp = errors.New("help requested")

func main() {
	socketPath, args, err := parseGlobalArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	env, err := parseCommand(args)
	if errors.Is(err, errHelp) {
		printUsage()
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	resp, err := send(socketPath, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if env.Type == "get_state" {
		var out bytes.Buffer
		if err := json.Indent(&out, resp.State, "", "  "); err != nil {
			fmt.Printf("%s\n", resp.State)
			return
		}
		fmt.Println(out.String())
		return
	}
	fmt.Println("ok")
}

// parseGlobalArgs strips a leading -socket option.
func parseGlobalArgs(args []string) (string, []string, error) {
	socketPath := defaultSocketPath
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			return "", nil, errors.New("-socket requires an argument")
		}
		socketPath = args[1]
		args = args[2:]
	}
	return socketPath, args, nil
}

// parseCommand turns a command line into the event envelope sent to the daemon.
func parseCommand(args []string) (Envelope, error) {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "start", "play":
		return Envelope{Type: "start_playback"}, nil
	case "stop":
		return Envelope{Type: "stop_playback"}, nil
	case "toggle":
		return Envelope{Type: "toggle_playback"}, nil

	case "volume", "vol":
		v, err := numberArg(cmd, rest)
		if err != nil {
			return Envelope{}, err
		}
		if v < 0 || v > 1 {
			return Envelope{}, fmt.Errorf("volume must be in [0, 1], got %g", v)
		}
		return withData("set_volume", map[string]float64{"volume": v})
	case "volume-up", "up":
		return withData("volume_step", map[string]int{"steps": 1})
	case "volume-down", "down":
		return withData("volume_step", map[string]int{"steps": -1})

	case "wait":
		v, err := numberArg(cmd, rest)
		if err != nil {
			return Envelope{}, err
		}
		return withData("set_wait", map[string]float64{"seconds": v})
	case "wait-add":
		v, err := numberArg(cmd, rest)
		if err != nil {
			return Envelope{}, err
		}
		return withData("adjust_wait", map[string]float64{"delta": v})

	case "mode":
		if len(rest) < 1 {
			return Envelope{}, errors.New("mode requires single, dual_manual or dual_auto")
		}
		switch rest[0] {
		case "single", "dual_manual", "dual_auto":
		default:
			return Envelope{}, fmt.Errorf("unknown mode: %s", rest[0])
		}
		return withData("set_mode", map[string]string{"mode": rest[0]})

	case "load":
		if len(rest) < 1 {
			return Envelope{}, errors.New("load requires a drill file")
		}
		drill, err := readDrill(rest[0])
		if err != nil {
			return Envelope{}, err
		}
		return withData("load_drill", map[string]any{"drill": drill, "source": rest[0]})

	case "foreground", "fg":
		return withData("visibility_changed", map[string]bool{"visible": true})
	case "background", "bg":
		return withData("visibility_changed", map[string]bool{"visible": false})

	case "status", "state":
		return Envelope{Type: "get_state"}, nil

	case "help", "-h", "--help":
		return Envelope{}, errHelp
	}
	return Envelope{}, fmt.Errorf("unknown command: %s", cmd)
}

func numberArg(cmd string, rest []string) (float64, error) {
	if len(rest) < 1 {
		return 0, fmt.Errorf("%s requires a number", cmd)
	}
	v, err := strconv.ParseFloat(rest[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", rest[0], err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a finite number", cmd)
	}
	return v, nil
}

func withData(typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return Envelope{Type: typ, Data: data}, nil
}

// readDrill loads a drill YAML file as a generic document. The daemon validates it.
func readDrill(path string) (map[string]any, error) {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drill: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode drill yaml: %w", err)
	}
	if doc == nil {
		return nil, errors.New("drill file is empty")
	}
	return doc, nil
}

func send(socketPath string, env Envelope) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(replyTimeout))

	data, err := json.Marshal(env)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send event: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `drillctl - Control the drillbeat daemon via IPC

Usage:
  drillctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  start, play             Start playback
  stop                    Stop playback
  toggle                  Toggle playback
  volume, vol <0..1>      Set volume
  volume-up, up           Step volume up
  volume-down, down       Step volume down
  wait <seconds>          Set the wait between repetitions
  wait-add <seconds>      Adjust the wait (negative to shorten)
  mode <mode>             single, dual_manual or dual_auto
  load <file.yaml>        Load a drill file
  foreground, fg          Mark the UI visible
  background, bg          Mark the UI hidden (stops playback)
  status, state           Print the daemon state as JSON
  help, -h, --help        Show this help message

Examples:
  drillctl toggle
  drillctl wait 1.25
  drillctl -socket /run/drillbeat.sock status
`, defaultSocketPath)
}
