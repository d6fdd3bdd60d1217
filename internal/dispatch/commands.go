package dispatch

import (
	"fmt"
	"slices"

	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/transport"
)

// Vendor guard modes.
const (
	GuardAway     = 0
	GuardHome     = 1
	GuardSchedule = 2
	GuardCustom   = 47
	GuardDisarmed = 63
)

var (
	armModes   = []int{GuardAway, GuardHome, GuardSchedule}
	guardModes = []int{GuardAway, GuardHome, GuardSchedule, GuardCustom, GuardDisarmed}
)

// isGuard reports whether kind changes the station guard mode.
func isGuard(kind transport.Kind) bool {
	return kind == transport.KindArm || kind == transport.KindDisarm || kind == transport.KindGuardMode
}

// ParseKind validates a command kind received from outside.
func ParseKind(s string) (transport.Kind, error) {
	switch k := transport.Kind(s); k {
	case transport.KindArm, transport.KindDisarm, transport.KindGuardMode,
		transport.KindMotionDetection, transport.KindStatusLED:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
}

// normalize checks param for kind and fills in the implied value for
// parameterless commands.
func normalize(kind transport.Kind, param int) (int, error) {
	switch kind {
	case transport.KindArm:
		if !slices.Contains(armModes, param) {
			return 0, fmt.Errorf("%w: arm mode %d, want one of %v", ErrInvalidParameter, param, armModes)
		}
	case transport.KindDisarm:
		param = GuardDisarmed
	case transport.KindGuardMode:
		if !slices.Contains(guardModes, param) {
			return 0, fmt.Errorf("%w: guard mode %d, want one of %v", ErrInvalidParameter, param, guardModes)
		}
	case transport.KindMotionDetection, transport.KindStatusLED:
		if param != 0 && param != 1 {
			return 0, fmt.Errorf("%w: %s takes 0 or 1, got %d", ErrInvalidParameter, kind, param)
		}
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupported, kind)
	}
	return param, nil
}

// implied returns the state a successful command implies.
func implied(kind transport.Kind, param int) map[string]device.Value {
	switch kind {
	case transport.KindArm, transport.KindDisarm, transport.KindGuardMode:
		return map[string]device.Value{
			device.PropGuardMode: device.IntValue(int64(param)),
			device.PropArmed:     device.BoolValue(param != GuardDisarmed),
		}
	case transport.KindMotionDetection:
		return map[string]device.Value{device.PropMotionDetection: device.BoolValue(param != 0)}
	case transport.KindStatusLED:
		return map[string]device.Value{device.PropStatusLED: device.BoolValue(param != 0)}
	default:
		return nil
	}
}
