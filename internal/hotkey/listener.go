// Package hotkey binds the global start/stop shortcuts.
package hotkey

import (
	"context"
	"fmt"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"

	"github.com/syzsky/autodoor/internal/logging"
)

// Binding is one shortcut and the action it runs.
type Binding struct {
	Name   string
	Keys   []string
	Action func()
}

// ParseCombo splits "ctrl+shift+f10" into its lower-cased keys.
func ParseCombo(combo string) ([]string, error) {
	var keys []string
	for _, part := range strings.Split(combo, "+") {
		k := strings.ToLower(strings.TrimSpace(part))
		if k == "" {
			return nil, fmt.Errorf("invalid hotkey %q", combo)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Listener owns the process-wide hook. Only one may run at a time.
type Listener struct {
	mu       sync.Mutex
	bindings []Binding
	logger   *logging.Logger

	register func(keys []string, cb func(hook.Event))
	start    func() chan hook.Event
	process  func(<-chan hook.Event) chan bool
	end      func()
}

func NewListener(logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.NewLogger("Hotkey")
	}
	return &Listener{
		logger: logger,
		register: func(keys []string, cb func(hook.Event)) {
			hook.Register(hook.KeyDown, keys, cb)
		},
		start:   hook.Start,
		process: hook.Process,
		end:     hook.End,
	}
}

// Bind adds a shortcut. combo uses the ParseCombo format.
func (l *Listener) Bind(name, combo string, action func()) error {
	keys, err := ParseCombo(combo)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bindings = append(l.bindings, Binding{Name: name, Keys: keys, Action: action})
	return nil
}

// Run registers every binding and processes hook events until ctx ends.
func (l *Listener) Run(ctx context.Context) {
	l.mu.Lock()
	bindings := append([]Binding(nil), l.bindings...)
	l.mu.Unlock()

	for _, b := range bindings {
		b := b
		l.register(b.Keys, func(hook.Event) {
			l.logger.InfoWithContext("Hotkey pressed", map[string]interface{}{
				"hotkey": b.Name,
				"keys":   strings.Join(b.Keys, "+"),
			})
			b.Action()
		})
	}

	s := l.start()
	done := l.process(s)
	l.logger.InfoWithContext("Hotkeys active", map[string]interface{}{"count": len(bindings)})

	select {
	case <-ctx.Done():
		l.end()
		<-done
	case <-done:
	}
}
