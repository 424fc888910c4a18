// Package script parses and runs the recorded-input command language.
//
//	KeyDown "<key>", <count>
//	KeyUp "<key>", <count>
//	LeftDown <count> | LeftUp <count> | RightDown <count> | RightUp <count>
//	MiddleDown <count> | MiddleUp <count>
//	MoveTo <x>, <y>
//	Delay <milliseconds>
//	StartScript
//	StopScript
//
// Keywords are case-insensitive. Lines that do not parse are ignored.
package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Op is a command opcode.
type Op int

const (
	OpKeyDown Op = iota
	OpKeyUp
	OpMouseDown
	OpMouseUp
	OpMoveTo
	OpDelay
	OpStartScript
	OpStopScript
)

func (o Op) String() string {
	switch o {
	case OpKeyDown:
		return "KeyDown"
	case OpKeyUp:
		return "KeyUp"
	case OpMouseDown:
		return "MouseDown"
	case OpMouseUp:
		return "MouseUp"
	case OpMoveTo:
		return "MoveTo"
	case OpDelay:
		return "Delay"
	case OpStartScript:
		return "StartScript"
	case OpStopScript:
		return "StopScript"
	}
	return "Unknown"
}

// Command is one parsed line.
type Command struct {
	Op     Op
	Key    string // OpKeyDown, OpKeyUp
	Button string // OpMouseDown, OpMouseUp: left, right, middle
	Count  int    // repetitions for key and button ops
	X, Y   int    // OpMoveTo
	Delay  time.Duration
}

func (c Command) String() string {
	switch c.Op {
	case OpKeyDown, OpKeyUp:
		return fmt.Sprintf("%s %q, %d", c.Op, c.Key, c.Count)
	case OpMouseDown, OpMouseUp:
		return fmt.Sprintf("%s %s %d", c.Op, c.Button, c.Count)
	case OpMoveTo:
		return fmt.Sprintf("MoveTo %d, %d", c.X, c.Y)
	case OpDelay:
		return fmt.Sprintf("Delay %d", c.Delay.Milliseconds())
	}
	return c.Op.String()
}

// input presses or releases something.
func (c Command) input() bool {
	switch c.Op {
	case OpKeyDown, OpKeyUp, OpMouseDown, OpMouseUp:
		return true
	}
	return false
}

var (
	keyLine    = regexp.MustCompile(`(?i)^key(down|up)\s+"([^"]+)"\s*(?:,\s*(\d+))?$`)
	buttonLine = regexp.MustCompile(`(?i)^(left|right|middle)(down|up)(?:\s+(\d+))?$`)
	moveLine   = regexp.MustCompile(`(?i)^moveto\s+(-?\d+)\s*,\s*(-?\d+)$`)
	delayLine  = regexp.MustCompile(`(?i)^delay\s+(\d+)$`)
)

// Parse turns script text into commands, skipping lines it cannot read.
func Parse(text string) []Command {
	var cmds []Command
	for _, raw := range strings.Split(text, "\n") {
		if cmd, ok := parseLine(strings.TrimSpace(raw)); ok {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func parseLine(line string) (Command, bool) {
	if line == "" {
		return Command{}, false
	}

	switch strings.ToLower(line) {
	case "startscript":
		return Command{Op: OpStartScript}, true
	case "stopscript":
		return Command{Op: OpStopScript}, true
	}

	if m := keyLine.FindStringSubmatch(line); m != nil {
		op := OpKeyDown
		if strings.EqualFold(m[1], "up") {
			op = OpKeyUp
		}
		return Command{Op: op, Key: m[2], Count: count(m[3])}, true
	}

	if m := buttonLine.FindStringSubmatch(line); m != nil {
		op := OpMouseDown
		if strings.EqualFold(m[2], "up") {
			op = OpMouseUp
		}
		return Command{Op: op, Button: strings.ToLower(m[1]), Count: count(m[3])}, true
	}

	if m := moveLine.FindStringSubmatch(line); m != nil {
		x, errX := strconv.Atoi(m[1])
		y, errY := strconv.Atoi(m[2])
		if errX != nil || errY != nil {
			return Command{}, false
		}
		return Command{Op: OpMoveTo, X: x, Y: y}, true
	}

	if m := delayLine.FindStringSubmatch(line); m != nil {
		ms, err := strconv.Atoi(m[1])
		if err != nil {
			return Command{}, false
		}
		return Command{Op: OpDelay, Delay: time.Duration(ms) * time.Millisecond}, true
	}

	return Command{}, false
}

func count(s string) int {
	if s == "" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// ReactionPadding is removed from a Delay that directly precedes a key or
// mouse button command.
const ReactionPadding = 100 * time.Millisecond

// Optimize returns a copy of cmds with each Delay directly before a key or
// button command shortened by ReactionPadding, never below zero.
func Optimize(cmds []Command) []Command {
	out := make([]Command, len(cmds))
	copy(out, cmds)
	for i := 0; i+1 < len(out); i++ {
		if out[i].Op != OpDelay || !out[i+1].input() {
			continue
		}
		out[i].Delay -= ReactionPadding
		if out[i].Delay < 0 {
			out[i].Delay = 0
		}
	}
	return out
}

// Compile parses and optimizes script text.
func Compile(text string) []Command {
	return Optimize(Parse(text))
}
