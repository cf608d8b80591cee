package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ws_listen prints the drillbeat state feed in a readable form. With -raw every
// frame is pretty-printed as JSON instead.

type frame struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type phaseData struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Side    string `json:"side"`
	Weapon  string `json:"weapon"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Cycle   int64  `json:"cycle"`
}

type playbackData struct {
	Status    string  `json:"status"`
	SessionID string  `json:"session_id"`
	AnchorSec float64 `json:"anchor_sec"`
	Visible   bool    `json:"visible"`
	Error     string  `json:"error"`
}

type timelineData struct {
	Mode     string  `json:"mode"`
	WaitSec  float64 `json:"wait_sec"`
	CycleMs  int64   `json:"cycle_ms"`
	Error    string  `json:"error"`
	Timeline struct {
		Phases []phaseData `json:"phases"`
	} `json:"timeline"`
}

type snapshotData struct {
	Mode     string     `json:"mode"`
	WaitSec  float64    `json:"wait_sec"`
	Volume   float64    `json:"volume"`
	Status   string     `json:"status"`
	Visible  bool       `json:"visible"`
	Error    string     `json:"error"`
	WeaponA  string     `json:"weapon_a"`
	WeaponB  string     `json:"weapon_b"`
	Phase    *phaseData `json:"phase"`
	Timeline struct {
		TotalDurationMs int64 `json:"total_duration_ms"`
	} `json:"timeline"`
}

// volumeTracker suppresses volume lines that do not change the rounded value.
type volumeTracker struct {
	mu   sync.Mutex
	last *float64
}

func (v *volumeTracker) changed(vol float64) bool {
	vol = math.Round(vol*100) / 100
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last != nil && math.Abs(*v.last-vol) < 0.01 {
		return false
	}
	v.last = &vol
	return true
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws", "drillbeat state websocket URL")
		raw   = flag.Bool("raw", false, "Pretty-print every frame as JSON")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Protects concurrent writes (pings and the close frame).
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	vol := &volumeTracker{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// The server only pings; any frame proves the connection is alive.
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				if *raw {
					fmt.Println(prettyJSON(message))
					continue
				}
				if line := formatFrame(message, vol); line != "" {
					fmt.Println(line)
				}
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatFrame renders one state frame as a single line. It returns "" for frames
// that carry nothing new.
func formatFrame(message []byte, vol *volumeTracker) string {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		return "[TEXT] " + string(message)
	}

	switch f.Type {
	case "state_init":
		var s snapshotData
		if err := json.Unmarshal(f.Data, &s); err != nil {
			break
		}
		vol.changed(s.Volume)
		line := fmt.Sprintf("[INIT] %s mode=%s wait=%.2fs cycle=%dms volume=%.2f visible=%t",
			s.Status, s.Mode, s.WaitSec, s.Timeline.TotalDurationMs, s.Volume, s.Visible)
		if s.WeaponA != "" {
			line += " a=" + s.WeaponA
		}
		if s.WeaponB != "" {
			line += " b=" + s.WeaponB
		}
		if s.Phase != nil {
			line += " phase=" + s.Phase.ID
		}
		if s.Error != "" {
			line += " error=" + s.Error
		}
		return line

	case "timeline":
		var tl timelineData
		if err := json.Unmarshal(f.Data, &tl); err != nil {
			break
		}
		if tl.Error != "" {
			return fmt.Sprintf("[TIMELINE] mode=%s wait=%.2fs error=%s", tl.Mode, tl.WaitSec, tl.Error)
		}
		ids := make([]string, 0, len(tl.Timeline.Phases))
		for _, p := range tl.Timeline.Phases {
			ids = append(ids, p.ID)
		}
		return fmt.Sprintf("[TIMELINE] mode=%s wait=%.2fs cycle=%dms phases=%s",
			tl.Mode, tl.WaitSec, tl.CycleMs, strings.Join(ids, ","))

	case "playback_state":
		var pb playbackData
		if err := json.Unmarshal(f.Data, &pb); err != nil {
			break
		}
		line := "[PLAYBACK] " + strings.ToUpper(pb.Status)
		if pb.SessionID != "" {
			line += fmt.Sprintf(" session=%s anchor=%.3f", pb.SessionID, pb.AnchorSec)
		}
		if !pb.Visible {
			line += " (hidden)"
		}
		if pb.Error != "" {
			line += " error=" + pb.Error
		}
		return line

	case "phase_changed":
		var p phaseData
		if err := json.Unmarshal(f.Data, &p); err != nil {
			break
		}
		line := fmt.Sprintf("[PHASE] rep %d %s (%d-%dms)", p.Cycle+1, p.Name, p.StartMs, p.EndMs)
		if p.Weapon != "" {
			line += " " + p.Weapon
		}
		return line

	case "volume_changed":
		var v struct {
			Volume float64 `json:"volume"`
		}
		if err := json.Unmarshal(f.Data, &v); err != nil {
			break
		}
		if !vol.changed(v.Volume) {
			return ""
		}
		return fmt.Sprintf("[VOLUME] %3.0f%%", v.Volume*100)
	}

	return "[" + strings.ToUpper(f.Type) + "]\n" + prettyJSON(f.Data)
}

func prettyJSON(message []byte) string {
	var v any
	if err := json.Unmarshal(message, &v); err != nil {
		return string(message)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(message)
	}
	return string(b)
}
