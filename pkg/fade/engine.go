package fade

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Datalab-Rotterdam/node-dmx/pkg/dmx"
)

// ChannelTarget is one channel's destination value.
type ChannelTarget struct {
	Universe int
	Channel  int
	Value    float64
}

type channelFade struct {
	universe   int
	channel    int
	startValue float64
	endValue   float64
}

type activeFade struct {
	id         int
	channels   []channelFade
	startTime  time.Time
	duration   time.Duration
	easingType EasingType
	onComplete func()
}

// Engine drives timed channel fades against a controller, flushing
// dirty universes on every tick.
type Engine struct {
	mu sync.Mutex

	controller  *dmx.Controller
	activeFades map[int]*activeFade
	nextID      int

	stopChan chan struct{}
	running  bool

	updateRate time.Duration
	log        *logrus.Logger
}

// NewEngine creates a fade engine over a controller. Update rate
// defaults to 25ms (40Hz).
func NewEngine(controller *dmx.Controller, updateRate time.Duration, log *logrus.Logger) *Engine {
	if updateRate <= 0 {
		updateRate = 25 * time.Millisecond
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		controller:  controller,
		activeFades: make(map[int]*activeFade),
		stopChan:    make(chan struct{}),
		updateRate:  updateRate,
		log:         log,
	}
}

// Start launches the update loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	go e.updateLoop()
}

// Stop halts the update loop; active fades freeze in place.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()
}

// FadeTo starts a fade of the given channels to their target values
// over the duration. It returns a fade id usable with Cancel.
func (e *Engine) FadeTo(targets []ChannelTarget, duration time.Duration, easing EasingType, onComplete func()) (int, error) {
	if len(targets) == 0 {
		return 0, fmt.Errorf("fade: no targets")
	}
	channels := make([]channelFade, 0, len(targets))
	for _, target := range targets {
		u := e.controller.Universe(target.Universe)
		if u == nil {
			return 0, fmt.Errorf("fade: universe %d not added", target.Universe)
		}
		current, err := u.Channel(target.Channel)
		if err != nil {
			return 0, err
		}
		channels = append(channels, channelFade{
			universe:   target.Universe,
			channel:    target.Channel,
			startValue: float64(current),
			endValue:   target.Value,
		})
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.activeFades[id] = &activeFade{
		id:         id,
		channels:   channels,
		startTime:  time.Now(),
		duration:   duration,
		easingType: easing,
		onComplete: onComplete,
	}
	e.mu.Unlock()

	// Zero-duration fades apply immediately on the next tick; kick one
	// update now so callers see the result without waiting.
	e.step(time.Now())
	return id, nil
}

// Cancel stops a fade mid-flight, leaving channels at their current
// values.
func (e *Engine) Cancel(id int) {
	e.mu.Lock()
	delete(e.activeFades, id)
	e.mu.Unlock()
}

// ActiveCount returns the number of running fades.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeFades)
}

func (e *Engine) updateLoop() {
	ticker := time.NewTicker(e.updateRate)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case now := <-ticker.C:
			e.step(now)
		}
	}
}

// step advances every active fade and flushes the controller once.
func (e *Engine) step(now time.Time) {
	e.mu.Lock()
	var completed []*activeFade
	wrote := false
	for id, fade := range e.activeFades {
		progress := 1.0
		if fade.duration > 0 {
			progress = float64(now.Sub(fade.startTime)) / float64(fade.duration)
		}
		if progress >= 1 {
			progress = 1
			completed = append(completed, fade)
			delete(e.activeFades, id)
		}
		for _, ch := range fade.channels {
			value := Interpolate(ch.startValue, ch.endValue, progress, fade.easingType)
			if err := e.controller.SetChannel(ch.universe, ch.channel, value); err != nil {
				e.log.Warnf("fade: set %d/%d: %v", ch.universe, ch.channel, err)
				continue
			}
			wrote = true
		}
	}
	e.mu.Unlock()

	if wrote {
		if err := e.controller.Flush(dmx.FlushOptions{}); err != nil {
			e.log.Warnf("fade: flush: %v", err)
		}
	}
	for _, fade := range completed {
		if fade.onComplete != nil {
			fade.onComplete()
		}
	}
}
