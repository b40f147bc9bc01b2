// Package flappy provides a side-scrolling pipe course in which a bird
// must flap through gaps between pairs of pipes. The bird and pipes are
// integrated by Box2D; overlap between them is resolved here in screen
// coordinates.
package flappy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/ByteArena/box2d"
	"github.com/samuelfneumann/flappydqn/environment"
	"github.com/samuelfneumann/flappydqn/lidar"
	"github.com/samuelfneumann/flappydqn/reward"
	"github.com/samuelfneumann/flappydqn/timestep"
	"github.com/samuelfneumann/flappydqn/utils/floatutils"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	FPS float64 = 30

	// Pixels per Box2D unit
	Scale float64 = 30.0

	Width      float64 = 288
	Height     float64 = 512
	BaseHeight float64 = 112
	GroundY    float64 = Height - BaseHeight

	Gravity      float64 = 1300
	FlapVelocity float64 = -400
	PipeSpeed    float64 = -150

	GapHeight     float64 = 130
	PipeWidth     float64 = 52
	PipeHeight    float64 = 320
	SpawnDistance float64 = 200

	BirdWidth  float64 = 34
	BirdHeight float64 = 24
	BirdX      float64 = Width / 4

	// Tilt of the bird in degrees while rising and at full fall speed
	MinTilt      float64 = -20
	MaxTilt      float64 = 60
	MaxFallSpeed float64 = 400
)

// Actions
const (
	NoOp int = iota
	Flap
	NumActions
)

const (
	birdCategory uint16 = 0x0002
	pipeCategory uint16 = 0x0004
)

type pipePair struct {
	upper, lower *box2d.B2Body
	passed       bool
}

var _ environment.Environment = &Flappy{}

// Flappy implements the environment.Environment interface
type Flappy struct {
	world box2d.B2World
	bird  *box2d.B2Body
	pipes []*pipePair

	sensor     *lidar.Lidar
	tiltSensor bool
	reward     reward.Model
	ender      environment.Ender
	starter    environment.Starter
	gap        distuv.Uniform

	state   reward.State
	obs     []float64
	stepNum int
	tilt    float64
}

// New returns a new Flappy environment, reset and ready to use
func New(c Config) (*Flappy, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	sensor, err := lidar.New(c.Rays, c.MaxDistance)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	src := rand.NewSource(c.Seed)
	gap := distuv.Uniform{
		Min: GapHeight / 2,
		Max: GroundY - GapHeight / 2,
		Src: src,
	}
	starter := environment.NewUniformStarter([]r1.Interval{
		{Min: BirdX, Max: BirdX},
		{Min: Height/2 - c.StartJitter, Max: Height/2 + c.StartJitter},
	}, c.Seed+1)

	f := &Flappy{
		world:      box2d.MakeB2World(box2d.MakeB2Vec2(0, Gravity/Scale)),
		sensor:     sensor,
		tiltSensor: c.TiltSensor,
		reward:     c.Reward,
		ender:      environment.NewStepLimit(c.MaxSteps),
		starter:    starter,
		gap:        gap,
	}
	f.Reset()
	return f, nil
}

// Reset implements the environment.Environment interface
func (f *Flappy) Reset() {
	f.destroy()

	start := f.starter.Start()
	f.bird = f.newBody(box2d.B2BodyType.B2_dynamicBody, birdCategory,
		r2.Vec{X: start[0], Y: start[1]}, r2.Vec{X: BirdWidth, Y: BirdHeight},
		r2.Vec{})

	f.state = reward.State{Y: start[1], CeilingY: BirdHeight / 2}
	f.stepNum = 0
	f.tilt = 0
	f.spawn()

	f.obs, _ = f.observe(f.birdCentre())
}

func (f *Flappy) destroy() {
	if f.bird != nil {
		f.world.DestroyBody(f.bird)
		f.bird = nil
	}
	for _, p := range f.pipes {
		f.world.DestroyBody(p.upper)
		f.world.DestroyBody(p.lower)
	}
	f.pipes = f.pipes[:0]
}

// newBody creates a rectangular body centred at centre in screen
// coordinates. Fixtures collide with nothing: Box2D only integrates
// positions.
func (f *Flappy) newBody(kind uint8, category uint16, centre, size,
	velocity r2.Vec) *box2d.B2Body {
	def := box2d.MakeB2BodyDef()
	def.Type = kind
	def.Position = toWorld(centre)
	def.LinearVelocity = box2d.MakeB2Vec2(velocity.X/Scale, velocity.Y/Scale)
	def.FixedRotation = true
	def.AllowSleep = false
	body := f.world.CreateBody(&def)

	shape := box2d.NewB2PolygonShape()
	shape.SetAsBox(size.X/2/Scale, size.Y/2/Scale)

	fix := box2d.MakeB2FixtureDef()
	fix.Shape = shape
	fix.Density = 1.0
	filter := box2d.MakeB2Filter()
	filter.CategoryBits = category
	filter.MaskBits = 0
	fix.Filter = filter
	body.CreateFixtureFromDef(&fix)

	return body
}

// spawn adds a new pipe pair at the right edge of the screen
func (f *Flappy) spawn() {
	centre := f.gap.Rand()
	size := r2.Vec{X: PipeWidth, Y: PipeHeight}
	velocity := r2.Vec{X: PipeSpeed}

	upper := r2.Vec{X: Width, Y: centre - GapHeight/2 - PipeHeight/2}
	lower := r2.Vec{X: Width, Y: centre + GapHeight/2 + PipeHeight/2}

	f.pipes = append(f.pipes, &pipePair{
		upper: f.newBody(box2d.B2BodyType.B2_kinematicBody, pipeCategory,
			upper, size, velocity),
		lower: f.newBody(box2d.B2BodyType.B2_kinematicBody, pipeCategory,
			lower, size, velocity),
	})
}

// Step implements the environment.Environment interface. Stepping a
// finished episode returns the last observation with zero reward.
func (f *Flappy) Step(action int) (timestep.TimeStep, error) {
	if action < 0 || action >= NumActions {
		return timestep.TimeStep{}, fmt.Errorf("step: illegal action %v",
			action)
	}
	if f.state.Done {
		step := timestep.New(timestep.Last, 0, f.Observation(), f.stepNum)
		step.SetEnd(timestep.Terminal)
		return step, nil
	}

	prev := f.state
	f.stepNum++

	if action == Flap {
		f.bird.SetLinearVelocity(box2d.MakeB2Vec2(0, FlapVelocity/Scale))
	}
	f.world.Step(1.0/FPS, 6, 2)

	f.clampToCeiling()
	f.updateScore()
	f.removePassed()
	if f.lastPipeFarEnough() {
		f.spawn()
	}
	f.checkCollisions()
	f.updateTilt()
	if f.state.Done {
		f.freeze()
	}

	obs, ok := f.observe(f.birdCentre())
	f.obs = obs

	var r float64
	if ok {
		r = f.reward.Reward(prev, f.state)
	} else {
		f.state.Done = true
		f.state.Cause = reward.Crash
		f.freeze()
	}

	step := timestep.New(timestep.Mid, r, f.Observation(), f.stepNum)
	switch {
	case !ok:
		step.SetEnd(timestep.Invalid)
	case f.state.Done:
		step.SetEnd(timestep.Terminal)
	case f.ender.End(&step):
		f.state.Done = true
		f.freeze()
	}

	return step, nil
}

// observe scans from origin and validates the result. A non-finite
// origin or reading yields the safe default observation and false.
func (f *Flappy) observe(origin r2.Vec) ([]float64, bool) {
	if !floatutils.IsFinite(origin.X) || !floatutils.IsFinite(origin.Y) {
		return environment.Sanitize(nil, f.sensor.Rays())
	}

	rotation := 0.0
	if f.tiltSensor {
		rotation = f.tilt
	}
	return environment.Sanitize(f.sensor.Scan(origin, rotation, f.World()),
		f.sensor.Rays())
}

func (f *Flappy) clampToCeiling() {
	pos := f.birdCentre()
	if pos.Y >= BirdHeight/2 {
		return
	}
	f.bird.SetTransform(toWorld(r2.Vec{X: pos.X, Y: BirdHeight / 2}), 0)
	vel := f.bird.GetLinearVelocity()
	f.bird.SetLinearVelocity(box2d.MakeB2Vec2(vel.X, math.Max(vel.Y, 0)))
}

// updateScore increments the score at most once per step, when the
// bird clears a pipe pair
func (f *Flappy) updateScore() {
	scored := false
	for _, p := range f.pipes {
		if p.passed || pipeBox(p.upper).Max.X >= f.birdCentre().X {
			continue
		}
		p.passed = true
		if !scored {
			f.state.Score++
			scored = true
		}
	}
}

func (f *Flappy) removePassed() {
	kept := f.pipes[:0]
	for _, p := range f.pipes {
		if pipeBox(p.upper).Max.X < 0 {
			f.world.DestroyBody(p.upper)
			f.world.DestroyBody(p.lower)
			continue
		}
		kept = append(kept, p)
	}
	f.pipes = kept
}

func (f *Flappy) lastPipeFarEnough() bool {
	if len(f.pipes) == 0 {
		return true
	}
	last := f.pipes[len(f.pipes)-1].upper.GetPosition().X * Scale
	return Width-last >= SpawnDistance
}

func (f *Flappy) checkCollisions() {
	bird := f.BirdBox()

	if bird.Max.Y >= GroundY {
		centre := r2.Vec{X: f.birdCentre().X, Y: GroundY - BirdHeight/2}
		f.bird.SetTransform(toWorld(centre), 0)
		f.state.Done = true
		f.state.Cause = reward.Floor
	} else {
		for _, p := range f.pipes {
			if overlaps(bird, pipeBox(p.upper)) ||
				overlaps(bird, pipeBox(p.lower)) {
				f.state.Done = true
				f.state.Cause = reward.Crash
				break
			}
		}
	}

	f.state.Y = f.birdCentre().Y
}

// freeze stops the bird and every pipe
func (f *Flappy) freeze() {
	f.bird.SetLinearVelocity(box2d.MakeB2Vec2(0, 0))
	f.bird.SetGravityScale(0)
	for _, p := range f.pipes {
		p.upper.SetLinearVelocity(box2d.MakeB2Vec2(0, 0))
		p.lower.SetLinearVelocity(box2d.MakeB2Vec2(0, 0))
	}
}

// updateTilt tilts the bird up while rising and gradually down while
// falling
func (f *Flappy) updateTilt() {
	vy := f.bird.GetLinearVelocity().Y * Scale
	if vy < 0 {
		f.tilt = MinTilt
		return
	}
	frac := floatutils.Clip(vy, 0, MaxFallSpeed) / MaxFallSpeed
	f.tilt = MinTilt + frac*(MaxTilt-MinTilt)
}

// Observation implements the environment.Environment interface
func (f *Flappy) Observation() []float64 {
	out := make([]float64, len(f.obs))
	copy(out, f.obs)
	return out
}

// IsDone implements the environment.Environment interface
func (f *Flappy) IsDone() bool {
	return f.state.Done
}

// NumActions implements the environment.Environment interface
func (f *Flappy) NumActions() int {
	return NumActions
}

// ObservationSize implements the environment.Environment interface
func (f *Flappy) ObservationSize() int {
	return f.sensor.Rays()
}

// Score implements the environment.Scorer interface
func (f *Flappy) Score() int {
	return f.state.Score
}

// State returns the reward-relevant state of the environment
func (f *Flappy) State() reward.State {
	return f.state
}

// Tilt returns the tilt of the bird in degrees
func (f *Flappy) Tilt() float64 {
	return f.tilt
}

// BirdBox returns the bounding box of the bird in screen coordinates
func (f *Flappy) BirdBox() r2.Box {
	return boxAround(f.birdCentre(), r2.Vec{X: BirdWidth, Y: BirdHeight})
}

// World returns the geometry that the lidar scans against
func (f *Flappy) World() lidar.World {
	w := lidar.World{
		GroundY:  GroundY,
		CeilingY: 0,
		Upper:    make([]r2.Box, 0, len(f.pipes)),
		Lower:    make([]r2.Box, 0, len(f.pipes)),
	}
	for _, p := range f.pipes {
		w.Upper = append(w.Upper, pipeBox(p.upper))
		w.Lower = append(w.Lower, pipeBox(p.lower))
	}
	return w
}

func (f *Flappy) birdCentre() r2.Vec {
	return toScreen(f.bird.GetPosition())
}

func pipeBox(b *box2d.B2Body) r2.Box {
	return boxAround(toScreen(b.GetPosition()),
		r2.Vec{X: PipeWidth, Y: PipeHeight})
}

func boxAround(centre, size r2.Vec) r2.Box {
	half := r2.Scale(0.5, size)
	return r2.Box{Min: r2.Sub(centre, half), Max: r2.Add(centre, half)}
}

func overlaps(a, b r2.Box) bool {
	return a.Min.X < b.Max.X && a.Max.X > b.Min.X &&
		a.Min.Y < b.Max.Y && a.Max.Y > b.Min.Y
}

func toWorld(v r2.Vec) box2d.B2Vec2 {
	return box2d.MakeB2Vec2(v.X/Scale, v.Y/Scale)
}

func toScreen(v box2d.B2Vec2) r2.Vec {
	return r2.Vec{X: v.X * Scale, Y: v.Y * Scale}
}
