package obstacle

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

//go:embed course.yaml
var defaultCourse []byte

// Course maps a stage name to the obstacles mounted while it is active.
type Course struct {
	Stages map[string]Layout `yaml:"stages"`
}

type Layout struct {
	Glass      []GlassSpec     `yaml:"glass"`
	Falling    []FallingSpec   `yaml:"falling"`
	LaunchPads []LaunchPadSpec `yaml:"launch_pads"`
	Moving     []MovingSpec    `yaml:"moving"`
}

type GlassSpec struct {
	ID       string     `yaml:"id"`
	Position [3]float64 `yaml:"position"`
	Fragile  bool       `yaml:"fragile"`
}

type FallingSpec struct {
	ID     string     `yaml:"id"`
	Anchor [3]float64 `yaml:"anchor"`
}

type LaunchPadSpec struct {
	ID       string     `yaml:"id"`
	Position [3]float64 `yaml:"position"`
}

type MovingSpec struct {
	ID     string     `yaml:"id"`
	Origin [3]float64 `yaml:"origin"`
	Axis   string     `yaml:"axis"`
	Range  float64    `yaml:"range"`
	Speed  float64    `yaml:"speed"`
}

var ErrDuplicateID = errors.New("duplicate obstacle id")

// LoadCourse decodes a course file. Unknown fields are rejected.
func LoadCourse(r io.Reader) (Course, error) {
	var c Course
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Course{}, fmt.Errorf("decode course: %w", err)
	}
	for stage, l := range c.Stages {
		if err := l.Validate(); err != nil {
			return Course{}, fmt.Errorf("stage %s: %w", stage, err)
		}
	}
	return c, nil
}

// DefaultCourse returns the built-in course.
func DefaultCourse() Course {
	c, err := LoadCourse(bytes.NewReader(defaultCourse))
	if err != nil {
		panic("embedded course is invalid: " + err.Error())
	}
	return c
}

// Layout returns the obstacles for stage; unknown stages are empty.
func (c Course) Layout(stage string) Layout {
	return c.Stages[stage]
}

// Validate checks that ids are unique across kinds and axes are known.
func (l Layout) Validate() error {
	seen := make(map[string]bool)
	check := func(id string) error {
		if id == "" {
			return errors.New("empty obstacle id")
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = true
		return nil
	}
	for _, g := range l.Glass {
		if err := check(g.ID); err != nil {
			return err
		}
	}
	for _, f := range l.Falling {
		if err := check(f.ID); err != nil {
			return err
		}
	}
	for _, p := range l.LaunchPads {
		if err := check(p.ID); err != nil {
			return err
		}
	}
	for _, m := range l.Moving {
		if err := check(m.ID); err != nil {
			return err
		}
		if _, err := ParseAxis(m.Axis); err != nil {
			return fmt.Errorf("moving platform %s: %w", m.ID, err)
		}
	}
	return nil
}

func vec(a [3]float64) mgl64.Vec3 {
	return mgl64.Vec3{a[0], a[1], a[2]}
}
