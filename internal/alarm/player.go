// Package alarm plays the trigger beep and shows desktop notifications.
package alarm

import (
	"sync/atomic"

	"github.com/gen2brain/beeep"

	"github.com/syzsky/autodoor/internal/logging"
)

// Beep parameters.
const (
	Frequency = 880.0
	Duration  = 300 // ms
)

// Player plays at most one beep at a time. A Play while a beep is still
// sounding is dropped.
type Player struct {
	playing atomic.Bool
	played  atomic.Int64
	logger  *logging.Logger

	beep   func(freq float64, ms int) error
	notify func(title, message string) error
}

// NewPlayer creates a player backed by the system speaker.
func NewPlayer(logger *logging.Logger) *Player {
	if logger == nil {
		logger = logging.NewLogger("Alarm")
	}
	return &Player{
		logger: logger,
		beep:   beeep.Beep,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Play starts a beep in the background unless one is already playing.
func (p *Player) Play() {
	if !p.playing.CompareAndSwap(false, true) {
		return
	}
	p.played.Add(1)
	go func() {
		defer p.playing.Store(false)
		if err := p.beep(Frequency, Duration); err != nil {
			p.logger.Warn("Alarm beep failed: " + err.Error())
		}
	}()
}

// Played is how many beeps were started.
func (p *Player) Played() int64 {
	return p.played.Load()
}

// Notify shows a desktop notification.
func (p *Player) Notify(title, message string) {
	if err := p.notify(title, message); err != nil {
		p.logger.WarnWithContext("Notification failed", map[string]interface{}{
			"title": title,
			"error": err.Error(),
		})
	}
}
