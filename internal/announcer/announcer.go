// Package announcer speaks navigation guidance. Utterances are queued and
// played one at a time by a single worker; callers never block.
package announcer

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/curbz/yamka/internal/route"
	"github.com/curbz/yamka/pkg/util"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Enabled     bool    `yaml:"enabled"`
	QueueSize   int     `yaml:"queue_size" validate:"gte=0"`
	LengthScale float64 `yaml:"length_scale" validate:"gte=0"`
	Piper       Piper   `yaml:"piper"`
	Sox         Sox     `yaml:"sox"`
}

type Piper struct {
	Application    string `yaml:"application"`
	VoiceDirectory string `yaml:"voice_directory"`
}

type Sox struct {
	Application string `yaml:"application"`
}

type config struct {
	Announcer Config `yaml:"announcer"`
}

func LoadConfig(cfgPath string) (*Config, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, err
	}
	return &cfg.Announcer, nil
}

const defaultQueueSize = 4

type utterance struct {
	text   string
	lang   string
	onDone func()
}

type Announcer struct {
	player    Player
	voices    VoiceResolver
	queueSize int

	mu            sync.Mutex
	queue         []utterance
	muted         bool
	cancelCurrent context.CancelFunc
	stopped       bool

	wake chan struct{}
}

// New returns an announcer playing through player. voices may be nil when the
// player does not need a voice model.
func New(player Player, voices VoiceResolver, queueSize int) *Announcer {
	if player == nil {
		player = NopPlayer{}
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Announcer{
		player:    player,
		voices:    voices,
		queueSize: queueSize,
		wake:      make(chan struct{}, 1),
	}
}

// NewFromConfig builds a piper backed announcer. A missing binary or voice
// directory degrades to a silent announcer, guidance still works on screen.
func NewFromConfig(cfg Config) *Announcer {
	if !cfg.Enabled {
		log.Info("announcer: speech disabled")
		return New(NopPlayer{}, nil, cfg.QueueSize)
	}

	for _, app := range []string{cfg.Piper.Application, cfg.Sox.Application} {
		if _, err := os.Stat(app); err != nil {
			log.Warnf("announcer: %q not available (%v), speech disabled", app, err)
			return New(NopPlayer{}, nil, cfg.QueueSize)
		}
	}

	vm, err := NewVoiceManager(cfg.Piper.VoiceDirectory)
	if err != nil {
		log.Warnf("announcer: %v, speech disabled", err)
		return New(NopPlayer{}, nil, cfg.QueueSize)
	}

	player := &PiperPlayer{
		PiperPath:   cfg.Piper.Application,
		SoxPath:     cfg.Sox.Application,
		LengthScale: cfg.LengthScale,
	}
	return New(player, vm, cfg.QueueSize)
}

// Speak queues text for playback. onDone, if not nil, is called exactly once
// when the utterance has been played, dropped, muted or cancelled. It may run
// on any goroutine.
func (a *Announcer) Speak(text, lang string, onDone func()) {
	a.mu.Lock()
	if a.muted || a.stopped || text == "" {
		a.mu.Unlock()
		done(onDone)
		return
	}

	var dropped []utterance
	// oldest guidance is the least useful
	for len(a.queue) >= a.queueSize {
		dropped = append(dropped, a.queue[0])
		a.queue = a.queue[1:]
	}
	a.queue = append(a.queue, utterance{text: text, lang: lang, onDone: onDone})
	a.mu.Unlock()

	for _, u := range dropped {
		log.Debugf("announcer: queue full, dropped %q", u.text)
		done(u.onDone)
	}

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Announce speaks an instruction.
func (a *Announcer) Announce(instr route.Instruction, lang string, onDone func()) {
	a.Speak(Phrase(instr, lang), lang, onDone)
}

// SetMuted mutes or unmutes speech. Muting also silences anything queued or
// playing.
func (a *Announcer) SetMuted(muted bool) {
	a.mu.Lock()
	a.muted = muted
	a.mu.Unlock()
	if muted {
		a.Cancel()
	}
}

func (a *Announcer) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

// Cancel flushes the queue and stops the current utterance.
func (a *Announcer) Cancel() {
	a.mu.Lock()
	flushed := a.queue
	a.queue = nil
	if a.cancelCurrent != nil {
		a.cancelCurrent()
	}
	a.mu.Unlock()

	for _, u := range flushed {
		done(u.onDone)
	}
}

// Close stops accepting speech and cancels anything pending.
func (a *Announcer) Close() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.Cancel()
}

// Run plays queued utterances until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	defer a.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		}

		for {
			a.mu.Lock()
			if len(a.queue) == 0 {
				a.mu.Unlock()
				break
			}
			u := a.queue[0]
			a.queue = a.queue[1:]
			playCtx, cancel := context.WithCancel(ctx)
			a.cancelCurrent = cancel
			a.mu.Unlock()

			a.play(playCtx, u)

			a.mu.Lock()
			a.cancelCurrent = nil
			a.mu.Unlock()
			cancel()
			done(u.onDone)

			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (a *Announcer) play(ctx context.Context, u utterance) {
	var voice Voice
	if a.voices != nil {
		v, err := a.voices.Resolve(u.lang)
		if err != nil {
			log.Errorf("announcer: %v", err)
			return
		}
		voice = v
	}

	log.Debugf("announcer: speaking %q", u.text)
	if err := a.player.Play(ctx, u.text, voice); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Debugf("announcer: cancelled %q", u.text)
			return
		}
		log.Errorf("announcer: playback failed: %v", err)
	}
}

func done(f func()) {
	if f != nil {
		f()
	}
}
