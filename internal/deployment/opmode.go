// File: internal/deployment/opmode.go
// Brief: Operation-mode transition table as a pure function.

package deployment

import "fmt"

// Mode is the human/observer-controlled lifecycle state of a deployment,
// distinct from technical health.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeMaintenance Mode = "maintenance"
	ModeMigrating   Mode = "migrating"
	ModeFailed      Mode = "failed"
	ModeStopped     Mode = "stopped"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNormal, ModeMaintenance, ModeMigrating, ModeFailed, ModeStopped:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown operation mode %q", s)
}

// IllegalTransitionError rejects a mode change not in the transition table.
// The current mode is preserved.
type IllegalTransitionError struct {
	From Mode
	To   Mode
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal operation mode transition from %s to %s", e.From, e.To)
}

var legalTransitions = map[Mode][]Mode{
	ModeNormal:      {ModeMaintenance, ModeMigrating},
	ModeMaintenance: {ModeNormal},
	ModeMigrating:   {ModeNormal, ModeFailed},
	ModeFailed:      {ModeNormal},
	ModeStopped:     {ModeNormal},
}

// NextMode returns the mode after applying target to current, or an
// IllegalTransitionError naming the current mode.
func NextMode(current, target Mode) (Mode, error) {
	for _, allowed := range legalTransitions[current] {
		if allowed == target {
			return target, nil
		}
	}
	return current, &IllegalTransitionError{From: current, To: target}
}
