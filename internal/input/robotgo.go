package input

import (
	"strings"

	"github.com/go-vgo/robotgo"
)

// Robotgo drives the real keyboard and mouse.
type Robotgo struct{}

// NewRobotgo creates the desktop input backend.
func NewRobotgo() *Robotgo {
	return &Robotgo{}
}

// KeyToggle presses or releases key. Names follow robotgo ("a", "space",
// "enter", "f1"...).
func (r *Robotgo) KeyToggle(key string, down bool) error {
	state := "up"
	if down {
		state = "down"
	}
	return robotgo.KeyToggle(normalizeKey(key), state)
}

func (r *Robotgo) KeyTap(key string) error {
	return robotgo.KeyTap(normalizeKey(key))
}

func (r *Robotgo) MouseToggle(button string, down bool) error {
	if down {
		return robotgo.Toggle(button)
	}
	return robotgo.Toggle(button, "up")
}

func (r *Robotgo) Move(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

func (r *Robotgo) Location() (int, int) {
	return robotgo.Location()
}

func (r *Robotgo) ScreenSize() (int, int) {
	return robotgo.GetScreenSize()
}

var keyAliases = map[string]string{
	"return": "enter",
	"esc":    "escape",
	"del":    "delete",
	"ctrl":   "control",
	"win":    "cmd",
	"pgup":   "pageup",
	"pgdn":   "pagedown",
}

func normalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}
