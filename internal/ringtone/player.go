// Package ringtone plays the 10-second audio cue for an active reminder.
// Each priority has a primary and a fallback source; quiet hours suppress
// the audio while keeping the ring timing intact so acknowledgment flow is
// identical day and night.
package ringtone

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"

	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
)

// RingDuration is how long one cue plays before ending naturally.
const RingDuration = 10 * time.Second

// ringDuration is the active value, shortened in tests.
var ringDuration = RingDuration

// decodeFile opens and decodes an audio source by extension. Package-level
// so tests can substitute streams without audio files.
var decodeFile = func(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3.Decode(f)
	case ".wav":
		return wav.Decode(f)
	default:
		_ = f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
}

// backend drives the actual audio output, substituted in tests.
type backend interface {
	// play starts the streamer and calls done when it finishes naturally.
	// The speaker owns the streamer afterwards.
	play(streamer beep.Streamer, format beep.Format, done func()) error
	// stop silences any current playback without firing done.
	stop()
}

// Clock supplies the current time, fixed in tests for quiet-hours checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds player dependencies.
type Config struct {
	Ringtones config.RingtoneConfig
	Logger    *slog.Logger
	Clock     Clock
	// OnRingFailure runs when no source for a priority can be decoded.
	OnRingFailure func(priority persistence.Priority)
}

// Player plays at most one cue at a time; a new Play silences the running
// cue first. Stop is idempotent; onEnd fires exactly once on natural
// termination and never after Stop, after preemption, or on total source
// failure.
type Player struct {
	cfg     config.RingtoneConfig
	quiet   *config.QuietWindow
	logger  *slog.Logger
	clock   Clock
	backend backend
	onFail  func(persistence.Priority)

	mu         sync.Mutex
	generation int
	ringing    bool
	timer      *time.Timer // quiet-hours silent ring
}

func NewPlayer(cfg Config) (*Player, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	p := &Player{
		cfg:     cfg.Ringtones,
		logger:  logger,
		clock:   clock,
		backend: &speakerBackend{},
		onFail:  cfg.OnRingFailure,
	}
	if cfg.Ringtones.QuietHours != "" {
		win, err := config.ParseQuietWindow(cfg.Ringtones.QuietHours)
		if err != nil {
			return nil, fmt.Errorf("quiet hours: %w", err)
		}
		p.quiet = &win
	}
	return p, nil
}

// source returns the primary and fallback paths for a priority.
func (p *Player) source(priority persistence.Priority) config.RingtoneSource {
	switch priority {
	case persistence.PriorityHigh:
		return p.cfg.High
	case persistence.PriorityMedium:
		return p.cfg.Medium
	default:
		return p.cfg.Low
	}
}

// Play starts the cue for the given priority, silencing any cue already
// ringing; the preempted cue's onEnd never fires. onEnd is invoked exactly
// once when the new cue ends naturally; it is not invoked after Stop, and
// not at all when every source fails to decode.
func (p *Player) Play(priority persistence.Priority, onEnd func()) error {
	p.mu.Lock()
	preempted := p.ringing
	prevTimer := p.timer
	p.timer = nil
	p.ringing = true
	p.generation++
	gen := p.generation
	quiet := p.quiet != nil && p.quiet.Contains(p.clock.Now())
	p.mu.Unlock()

	if preempted {
		if prevTimer != nil {
			prevTimer.Stop()
		}
		p.backend.stop()
		p.logger.Info("ringtone preempted", "priority", priority)
	}

	done := func() {
		if p.endRing(gen) && onEnd != nil {
			onEnd()
		}
	}

	if quiet {
		// Audio suppressed; the ring still runs its full duration so the
		// acknowledgment flow is unchanged.
		p.logger.Info("ringtone suppressed by quiet hours", "priority", priority)
		p.mu.Lock()
		p.timer = time.AfterFunc(ringDuration, done)
		p.mu.Unlock()
		return nil
	}

	streamer, format, err := p.decode(priority)
	if err != nil {
		p.endRing(gen)
		p.logger.Error("all ringtone sources failed; no cue for this ring",
			"priority", priority,
			"error", err,
		)
		if p.onFail != nil {
			p.onFail(priority)
		}
		return err
	}

	limited := beep.Take(format.SampleRate.N(ringDuration), streamer)
	if err := p.backend.play(limited, format, done); err != nil {
		p.endRing(gen)
		p.logger.Error("audio playback failed", "priority", priority, "error", err)
		if p.onFail != nil {
			p.onFail(priority)
		}
		return err
	}
	p.logger.Info("ringtone playing", "priority", priority)
	return nil
}

// decode tries the primary source, then the fallback.
func (p *Player) decode(priority persistence.Priority) (beep.StreamSeekCloser, beep.Format, error) {
	src := p.source(priority)
	var firstErr error
	for _, path := range []string{src.Primary, src.Fallback} {
		if path == "" {
			continue
		}
		streamer, format, err := decodeFile(path)
		if err == nil {
			return streamer, format, nil
		}
		p.logger.Warn("ringtone source failed", "path", path, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no ringtone sources configured for priority %s", priority)
	}
	return nil, beep.Format{}, firstErr
}

// Stop silences the current ring, if any. The ring's onEnd will not fire.
// Calling Stop with nothing ringing is a no-op.
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.ringing {
		p.mu.Unlock()
		return
	}
	p.ringing = false
	p.generation++
	timer := p.timer
	p.timer = nil
	p.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	p.backend.stop()
}

// Ringing reports whether a cue is currently active.
func (p *Player) Ringing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ringing
}

// endRing closes generation gen and reports whether it was still current.
// A stale generation means Stop (or a newer Play) already took over, so the
// caller must not fire onEnd.
func (p *Player) endRing(gen int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return false
	}
	p.ringing = false
	p.timer = nil
	return true
}

// speakerBackend plays through the system audio device. The speaker is
// initialized once, with the first cue's sample rate; later cues are
// resampled to it.
type speakerBackend struct {
	mu       sync.Mutex
	initRate beep.SampleRate
}

func (b *speakerBackend) play(streamer beep.Streamer, format beep.Format, done func()) error {
	b.mu.Lock()
	if b.initRate == 0 {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(100*time.Millisecond)); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("speaker init: %w", err)
		}
		b.initRate = format.SampleRate
	}
	rate := b.initRate
	b.mu.Unlock()

	if format.SampleRate != rate {
		streamer = beep.Resample(4, format.SampleRate, rate, streamer)
	}
	speaker.Play(beep.Seq(streamer, beep.Callback(done)))
	return nil
}

func (b *speakerBackend) stop() {
	b.mu.Lock()
	initialized := b.initRate != 0
	b.mu.Unlock()
	if initialized {
		speaker.Clear()
	}
}
