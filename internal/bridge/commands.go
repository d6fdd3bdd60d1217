package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/dispatch"
	"github.com/nerrad567/eufy-bridge/internal/transport"
)

// Command topics that are not property names.
const (
	commandArm    = "arm"
	commandDisarm = "disarm"
)

// parseCommand decodes a message on {prefix}/{serial}/{command}/set.
//
// The command segment is a writable property (guard_mode,
// motion_detection, status_led) or one of arm/disarm. Toggle payloads
// accept 1/0, true/false and ON/OFF.
func parseCommand(command string, payload []byte) (transport.Kind, int, error) {
	text := strings.TrimSpace(string(payload))

	switch command {
	case commandDisarm:
		return transport.KindDisarm, dispatch.GuardDisarmed, nil
	case commandArm:
		if text == "" {
			return transport.KindArm, dispatch.GuardAway, nil
		}
		mode, err := strconv.Atoi(text)
		if err != nil {
			return "", 0, fmt.Errorf("%w: arm mode %q", ErrBadCommand, text)
		}
		return transport.KindArm, mode, nil
	case device.PropGuardMode:
		mode, err := strconv.Atoi(text)
		if err != nil {
			return "", 0, fmt.Errorf("%w: guard mode %q", ErrBadCommand, text)
		}
		return transport.KindGuardMode, mode, nil
	case device.PropMotionDetection, device.PropStatusLED:
		on, err := parseToggle(text)
		if err != nil {
			return "", 0, err
		}
		kind, _ := dispatch.ParseKind(command)
		if on {
			return kind, 1, nil
		}
		return kind, 0, nil
	default:
		return "", 0, fmt.Errorf("%w: %q is not writable", dispatch.ErrUnsupported, command)
	}
}

func parseToggle(text string) (bool, error) {
	switch strings.ToLower(text) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: toggle value %q", ErrBadCommand, text)
	}
}

// handleCommand routes one command message to the Dispatcher. The
// dispatch runs in its own goroutine so bus delivery never blocks on a
// device.
func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) error {
	serial, command, ok := b.topics.ParseDeviceCommand(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrBadCommand, topic)
	}
	kind, param, err := parseCommand(command, payload)
	if err != nil {
		return err
	}

	d := b.dispatcher()
	if d == nil {
		return ErrNotReady
	}

	b.commands.Add(1)
	go func() {
		defer b.commands.Done()
		if _, err := d.Dispatch(ctx, serial, kind, param); err != nil {
			b.logger.Warn("bus command failed", "serial", serial, "command", command, "error", err)
			return
		}
		b.logger.Debug("bus command executed", "serial", serial, "command", command, "param", param)
	}()
	return nil
}
