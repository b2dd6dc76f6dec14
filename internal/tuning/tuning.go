// Package tuning loads the engine knobs from tuning.yaml.
package tuning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"scatterdrop.dev/internal/scatter/session"
	"scatterdrop.dev/internal/scatter/spawn"
	"scatterdrop.dev/internal/scatter/tool"
	"scatterdrop.dev/schemas"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	FrameRateHz int     `yaml:"frame_rate_hz"`
	FixedStep   float32 `yaml:"fixed_step"`
	MaxSteps    int     `yaml:"max_steps"`

	RayRetries int     `yaml:"ray_retries"`
	RayNudge   float32 `yaml:"ray_nudge"`

	// SnapshotEveryFrames is the sandbox snapshot cadence. Zero disables periodic snapshots.
	SnapshotEveryFrames int   `yaml:"snapshot_every_frames"`
	Seed                int64 `yaml:"seed"`

	Policy spawn.Policy `yaml:"policy"`
}

func Defaults() Tuning {
	sc := session.DefaultConfig()
	rc := spawn.DefaultConfig()
	return Tuning{
		ProtocolVersion:     "1.0",
		FrameRateHz:         30,
		FixedStep:           sc.FixedStep,
		MaxSteps:            sc.MaxSteps,
		RayRetries:          rc.RayRetries,
		RayNudge:            rc.RayNudge,
		SnapshotEveryFrames: 1800,
		Policy:              spawn.DefaultPolicy(),
	}
}

// Normalize fills zero fields from Defaults and clamps the policy.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.FrameRateHz <= 0 {
		t.FrameRateHz = d.FrameRateHz
	}
	if t.FixedStep <= 0 {
		t.FixedStep = d.FixedStep
	}
	if t.MaxSteps <= 0 {
		t.MaxSteps = d.MaxSteps
	}
	if t.RayRetries <= 0 {
		t.RayRetries = d.RayRetries
	}
	if t.RayNudge <= 0 {
		t.RayNudge = d.RayNudge
	}
	if t.SnapshotEveryFrames < 0 {
		t.SnapshotEveryFrames = 0
	}
	t.Policy.Normalize()
}

// ToolConfig converts t into the scatter tool configuration.
func (t Tuning) ToolConfig() tool.Config {
	cfg := tool.DefaultConfig()
	cfg.Session.FixedStep = t.FixedStep
	cfg.Session.MaxSteps = t.MaxSteps
	cfg.Spawn.RayRetries = t.RayRetries
	cfg.Spawn.RayNudge = t.RayNudge
	cfg.Policy = t.Policy
	cfg.Seed = t.Seed
	return cfg
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = schemas.Compile("tuning.schema.json")
	})
	return schema, schemaErr
}

// Validate checks a raw yaml document against the tuning schema.
func Validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// The schema validator only understands encoding/json shapes.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	s, err := compiled()
	if err != nil {
		return err
	}
	return s.Validate(v)
}

// Load reads, validates and normalizes a tuning file. Unset fields take their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := Validate(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	return t, nil
}
