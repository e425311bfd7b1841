// Package message defines the closed set of broadcast channels and their
// payload schemas. Every payload is validated on decode; anything that does
// not match its schema is reported as ErrMalformed.
package message

import (
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/wfunc/coursesync/obstacle"
)

type Channel uint16

const (
	ChannelGlass Channel = iota + 1
	ChannelFall
	ChannelShoot
	ChannelShot
)

func (c Channel) String() string {
	switch c {
	case ChannelGlass:
		return "glass"
	case ChannelFall:
		return "fall"
	case ChannelShoot:
		return "shoot"
	case ChannelShot:
		return "shot"
	}
	return fmt.Sprintf("channel(%d)", uint16(c))
}

var (
	ErrMalformed      = errors.New("malformed payload")
	ErrUnknownChannel = errors.New("unknown channel")
)

// Validator is implemented by every payload and shared record.
type Validator interface {
	Validate() error
}

type Payload interface {
	Validator
	Channel() Channel
}

// GlassTransition requests a glass tile status.
type GlassTransition struct {
	Obstacle string               `msgpack:"o"`
	Status   obstacle.GlassStatus `msgpack:"s"`
}

func (GlassTransition) Channel() Channel { return ChannelGlass }

func (m GlassTransition) Validate() error {
	if m.Obstacle == "" {
		return errors.New("empty obstacle id")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid glass status %d", m.Status)
	}
	return nil
}

// FallTransition requests a falling platform status within a cycle.
// Reassert marks the host's periodic snapshot.
type FallTransition struct {
	Obstacle string              `msgpack:"o"`
	Status   obstacle.FallStatus `msgpack:"s"`
	Cycle    uint32              `msgpack:"c"`
	Reassert bool                `msgpack:"r,omitempty"`
}

func (FallTransition) Channel() Channel { return ChannelFall }

func (m FallTransition) Validate() error {
	if m.Obstacle == "" {
		return errors.New("empty obstacle id")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid fall status %d", m.Status)
	}
	return nil
}

// MaxShootForce bounds the launch force of a projectile.
const MaxShootForce = 100

// Shoot carries the initial conditions of a projectile. Every peer spawns
// its own copy under ID.
type Shoot struct {
	ID      string     `msgpack:"id"`
	Origin  [3]float64 `msgpack:"p"`
	Dir     [3]float64 `msgpack:"d"`
	Force   float64    `msgpack:"f"`
	Shooter string     `msgpack:"s"`
}

func (Shoot) Channel() Channel { return ChannelShoot }

func (m Shoot) Validate() error {
	if m.Shooter == "" {
		return errors.New("empty shooter id")
	}
	if m.ID == "" {
		return errors.New("empty projectile id")
	}
	if !Finite(m.Origin[:]...) || !Finite(m.Dir[:]...) || !Finite(m.Force) {
		return errors.New("non-finite vector")
	}
	if m.Dir[0] == 0 && m.Dir[1] == 0 && m.Dir[2] == 0 {
		return errors.New("zero direction")
	}
	if m.Force <= 0 || m.Force > MaxShootForce {
		return fmt.Errorf("force %.2f out of range", m.Force)
	}
	return nil
}

// Shot is the elimination cue sent when a peer is caught on red.
type Shot struct {
	Peer string `msgpack:"p"`
}

func (Shot) Channel() Channel { return ChannelShot }

func (m Shot) Validate() error {
	if m.Peer == "" {
		return errors.New("empty peer id")
	}
	return nil
}

var registry = map[Channel]func() Payload{
	ChannelGlass: func() Payload { return &GlassTransition{} },
	ChannelFall:  func() Payload { return &FallTransition{} },
	ChannelShoot: func() Payload { return &Shoot{} },
	ChannelShot:  func() Payload { return &Shot{} },
}

// Known reports whether c is a registered channel.
func Known(c Channel) bool {
	_, ok := registry[c]
	return ok
}

// Encode validates p and serialises it.
func Encode(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, p.Channel(), err)
	}
	return msgpack.Marshal(p)
}

// Decode parses data as the schema registered for c. The returned payload
// is a pointer to the concrete type.
func Decode(c Channel, data []byte) (Payload, error) {
	newPayload, ok := registry[c]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, c)
	}
	p := newPayload()
	if err := DecodeInto(data, p); err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	return p, nil
}

// Marshal serialises a shared-state record.
func Marshal(v Validator) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msgpack.Marshal(v)
}

// DecodeInto unmarshals data into v and validates it.
func DecodeInto(data []byte, v Validator) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformed)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Finite reports whether every value is a real number.
func Finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
