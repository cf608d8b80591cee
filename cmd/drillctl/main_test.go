package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args     []string
		wantType string
		wantData string
	}{
		{[]string{"start"}, "start_playback", ""},
		{[]string{"toggle"}, "toggle_playback", ""},
		{[]string{"volume", "0.25"}, "set_volume", `{"volume":0.25}`},
		{[]string{"down"}, "volume_step", `{"steps":-1}`},
		{[]string{"wait", "1.5"}, "set_wait", `{"seconds":1.5}`},
		{[]string{"wait-add", "-0.1"}, "adjust_wait", `{"delta":-0.1}`},
		{[]string{"mode", "dual_auto"}, "set_mode", `{"mode":"dual_auto"}`},
		{[]string{"bg"}, "visibility_changed", `{"visible":false}`},
		{[]string{"status"}, "get_state", ""},
	}
	for _, tt := range tests {
		env, err := parseCommand(tt.args)
		if err != nil {
			t.Fatalf("%v: unexpected error %v", tt.args, err)
		}
		if env.Type != tt.wantType || string(env.Data) != tt.wantData {
			t.Fatalf("%v: got %s %s, want %s %s", tt.args, env.Type, env.Data, tt.wantType, tt.wantData)
		}
	}
}

func TestParseCommand_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"volume"},
		{"volume", "loud"},
		{"volume", "1.5"},
		{"wait", "NaN"},
		{"wait", "+Inf"},
		{"mode", "triple"},
		{"load"},
		{"load", "/nonexistent/drill.yaml"},
		{"launch"},
	} {
		if _, err := parseCommand(args); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
	if _, err := parseCommand([]string{"help"}); !errors.Is(err, errHelp) {
		t.Fatalf("expected errHelp, got %v", err)
	}
}

func TestParseCommand_LoadForwardsDrillDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drill.yaml")
	content := "mode: dual_auto\nweapons:\n  a:\n    reload_sec: 2\n    pattern: [{kind: shoot, duration_ms: 150}]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	env, err := parseCommand([]string{"load", path})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var data struct {
		Drill struct {
			Mode    string `json:"mode"`
			Weapons struct {
				A struct {
					ReloadSec float64 `json:"reload_sec"`
					Pattern   []struct {
						Kind       string `json:"kind"`
						DurationMs int64  `json:"duration_ms"`
					} `json:"pattern"`
				} `json:"a"`
			} `json:"weapons"`
		} `json:"drill"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal %s: %v", env.Data, err)
	}
	if env.Type != "load_drill" || data.Source != path || data.Drill.Mode != "dual_auto" {
		t.Fatalf("unexpected envelope %s %s", env.Type, env.Data)
	}
	if a := data.Drill.Weapons.A; a.ReloadSec != 2 || len(a.Pattern) != 1 || a.Pattern[0].DurationMs != 150 {
		t.Fatalf("unexpected weapon %+v", a)
	}
}

func TestParseGlobalArgs(t *testing.T) {
	socket, rest, err := parseGlobalArgs([]string{"-socket", "/run/d.sock", "stop"})
	if err != nil || socket != "/run/d.sock" || len(rest) != 1 || rest[0] != "stop" {
		t.Fatalf("unexpected result %q %v %v", socket, rest, err)
	}
	socket, _, _ = parseGlobalArgs([]string{"stop"})
	if socket != defaultSocketPath {
		t.Fatalf("expected default socket, got %q", socket)
	}
	if _, _, err := parseGlobalArgs([]string{"-socket"}); err == nil {
		t.Fatalf("expected error for missing socket path")
	}
}

func TestSend(t *testing.T) {
	dir, err := os.MkdirTemp("", "dc")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "d.sock")

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	got := make(chan Envelope, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sc := bufio.NewScanner(conn)
			if sc.Scan() {
				var env Envelope
				_ = json.Unmarshal(sc.Bytes(), &env)
				got <- env
				if env.Type == "get_state" {
					conn.Write([]byte(`{"status":"ok","state":{"status":"idle"}}` + "\n"))
				} else {
					conn.Write([]byte(`{"status":"error","error":"event queue full"}` + "\n"))
				}
			}
			conn.Close()
		}
	}()

	resp, err := send(socketPath, Envelope{Type: "get_state"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(resp.State) != `{"status":"idle"}` {
		t.Fatalf("unexpected state %s", resp.State)
	}
	if env := <-got; env.Type != "get_state" {
		t.Fatalf("server saw %q", env.Type)
	}

	if _, err := send(socketPath, Envelope{Type: "stop_playback"}); err == nil {
		t.Fatalf("expected daemon error")
	}
}
