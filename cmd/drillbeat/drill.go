package main

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"drillbeat/internal/timeline"
)

// Drill is the user-facing description of what to practice: which weapons, their
// patterns and reloads, and how long to wait between repetitions.
//
// Example:
//
//	mode: dual_manual
//	wait_sec: 0.5
//	weapons:
//	  a:
//	    name: Rifle
//	    reload_sec: 2.21
//	    pattern:
//	      - {kind: direction, direction: left, duration_ms: 500}
//	      - {kind: shoot, duration_ms: 150}
//	  b:
//	    name: Pistol
//	    reload_sec: 1.83
//	    pattern:
//	      - {kind: shoot, duration_ms: 300}
type Drill struct {
	Mode    timeline.Mode `yaml:"mode" json:"mode"`
	WaitSec float64       `yaml:"wait_sec" json:"wait_sec"`
	Volume  *float64      `yaml:"volume,omitempty" json:"volume,omitempty"`
	Weapons DrillWeapons  `yaml:"weapons" json:"weapons"`
}

type DrillWeapons struct {
	A Weapon `yaml:"a" json:"a"`
	B Weapon `yaml:"b,omitempty" json:"b,omitempty"`
}

type Weapon struct {
	Name      string           `yaml:"name,omitempty" json:"name,omitempty"`
	ReloadSec float64          `yaml:"reload_sec" json:"reload_sec"`
	Pattern   timeline.Pattern `yaml:"pattern" json:"pattern"`
}

// DefaultDrill is what the daemon plays before any drill file is loaded.
func DefaultDrill() Drill {
	return Drill{
		Mode:    timeline.ModeSingle,
		WaitSec: 0.5,
		Weapons: DrillWeapons{
			A: Weapon{
				Name:      "Primary",
				ReloadSec: 2.0,
				Pattern: timeline.Pattern{
					timeline.DirectionStep(timeline.Left, 500),
					timeline.ShootStep(150),
					timeline.DirectionStep(timeline.Right, 300),
				},
			},
			B: Weapon{
				Name:      "Secondary",
				ReloadSec: 1.5,
				Pattern: timeline.Pattern{
					timeline.ShootStep(300),
				},
			},
		},
	}
}

// LoadDrillFile reads and validates a YAML drill file.
func LoadDrillFile(path string) (Drill, error) {
	if path == "" {
		return Drill{}, errors.New("drill path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Drill{}, fmt.Errorf("read drill file: %w", err)
	}
	return ParseDrill(b)
}

// ParseDrill decodes a single YAML drill document. Unknown fields are rejected.
func ParseDrill(b []byte) (Drill, error) {
	var d Drill

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&d); err != nil {
		return Drill{}, fmt.Errorf("decode drill yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return Drill{}, fmt.Errorf("decode drill yaml: unexpected trailing document")
	}

	if d.Mode == "" {
		d.Mode = timeline.ModeSingle
	}
	if err := d.Validate(); err != nil {
		return Drill{}, err
	}
	return d, nil
}

// Validate reports the first invalid field. Non-positive step durations and negative
// waits are accepted: the builder ignores the former and floors the latter.
func (d Drill) Validate() error {
	if d.Mode != "" {
		if _, err := timeline.ParseMode(string(d.Mode)); err != nil {
			return fmt.Errorf("drill mode: %w", err)
		}
	}
	if !finite(d.WaitSec) {
		return errors.New("drill wait_sec must be a finite number")
	}
	if d.Volume != nil && (!finite(*d.Volume) || *d.Volume < 0 || *d.Volume > 1) {
		return errors.New("drill volume must be in [0, 1]")
	}
	if err := d.Weapons.A.validate("a"); err != nil {
		return err
	}
	if d.Mode == timeline.ModeDualManual || d.Mode == timeline.ModeDualAuto {
		if err := d.Weapons.B.validate("b"); err != nil {
			return err
		}
	}
	return nil
}

func (w Weapon) validate(key string) error {
	if !finite(w.ReloadSec) || w.ReloadSec < 0 {
		return fmt.Errorf("weapons.%s.reload_sec must be >= 0", key)
	}
	for i, s := range w.Pattern {
		switch s.Kind {
		case timeline.StepShoot:
		case timeline.StepDirection:
			if s.Direction != timeline.Left && s.Direction != timeline.Right {
				return fmt.Errorf("weapons.%s.pattern[%d]: direction must be %q or %q", key, i, timeline.Left, timeline.Right)
			}
		default:
			return fmt.Errorf("weapons.%s.pattern[%d]: unknown step kind %q", key, i, s.Kind)
		}
	}
	return nil
}

// Spec returns the builder parameters for this drill.
func (d Drill) Spec() timeline.Spec {
	return timeline.Spec{
		Mode:       d.Mode,
		PatternA:   d.Weapons.A.Pattern,
		PatternB:   d.Weapons.B.Pattern,
		ReloadASec: d.Weapons.A.ReloadSec,
		ReloadBSec: d.Weapons.B.ReloadSec,
		WaitSec:    d.WaitSec,
	}
}

// WeaponName returns the display name for a side, falling back to the side letter.
// Single-weapon drills have no sides and always name weapon A.
func (d Drill) WeaponName(side timeline.Side) string {
	if side == timeline.SideNone && (d.Mode == timeline.ModeSingle || d.Mode == "") {
		side = timeline.SideA
	}
	switch side {
	case timeline.SideA:
		if d.Weapons.A.Name != "" {
			return d.Weapons.A.Name
		}
	case timeline.SideB:
		if d.Weapons.B.Name != "" {
			return d.Weapons.B.Name
		}
	}
	return string(side)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
