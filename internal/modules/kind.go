package modules

import "fmt"

// Kind identifies one of the recognition/action modules.
type Kind int

const (
	KindScript Kind = iota + 1
	KindColor
	KindOCR
	KindTimed
	KindNumber
)

// Fixed module priorities. Higher wins the screenshot buffer, the input
// devices and the event queue.
const (
	PriorityScript = 1
	PriorityColor  = 2
	PriorityOCR    = 3
	PriorityTimed  = 4
	PriorityNumber = 5
)

// MaxGroups is the per-module group limit.
const MaxGroups = 15

// All lists every module kind, highest priority first.
var All = []Kind{KindNumber, KindTimed, KindOCR, KindColor, KindScript}

// Priority returns the module's fixed priority.
func (k Kind) Priority() int {
	switch k {
	case KindNumber:
		return PriorityNumber
	case KindTimed:
		return PriorityTimed
	case KindOCR:
		return PriorityOCR
	case KindColor:
		return PriorityColor
	case KindScript:
		return PriorityScript
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindTimed:
		return "timed"
	case KindOCR:
		return "ocr"
	case KindColor:
		return "color"
	case KindScript:
		return "script"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a module name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range All {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown module %q", s)
}
