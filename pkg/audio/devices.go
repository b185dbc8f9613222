package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"
)

// ErrNoDevices is returned when enumeration finds no device of the requested kind.
var ErrNoDevices = errors.New("audio: no devices found")

// DeviceInfo describes one capture or playback device as reported by the
// platform backend.
type DeviceInfo struct {
	// Name is the human-readable device name used for selector matching.
	Name string

	// IsDefault reports whether the platform considers this the default device.
	IsDefault bool

	// id is the backend identifier used to open the device.
	id malgo.DeviceID
}

// Context owns the platform audio backend shared by device enumeration,
// capture, and playback. Create one per process and close it on shutdown.
type Context struct {
	mctx *malgo.AllocatedContext
}

// NewContext initialises the platform audio backend.
func NewContext() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init backend: %w", err)
	}
	return &Context{mctx: mctx}, nil
}

// Close releases the platform backend. Devices created from this context must
// be stopped first.
func (c *Context) Close() error {
	if c.mctx == nil {
		return nil
	}
	err := c.mctx.Uninit()
	c.mctx.Free()
	c.mctx = nil
	if err != nil {
		return fmt.Errorf("audio: close backend: %w", err)
	}
	return nil
}

// CaptureDevices lists the available capture devices.
func (c *Context) CaptureDevices() ([]DeviceInfo, error) {
	return c.devices(malgo.Capture)
}

// PlaybackDevices lists the available playback devices.
func (c *Context) PlaybackDevices() ([]DeviceInfo, error) {
	return c.devices(malgo.Playback)
}

func (c *Context) devices(kind malgo.DeviceType) ([]DeviceInfo, error) {
	infos, err := c.mctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, DeviceInfo{
			Name:      info.Name(),
			IsDefault: info.IsDefault > 0,
			id:        info.ID,
		})
	}
	return devices, nil
}

// MatchDevice resolves a selector against a device list. An exact
// case-insensitive name match wins; otherwise the first case-insensitive
// substring match is used. Returns the index of the match, or -1 when the
// selector matches nothing. An empty selector matches nothing.
func MatchDevice(devices []DeviceInfo, selector string) int {
	sel := strings.ToLower(strings.TrimSpace(selector))
	if sel == "" {
		return -1
	}

	substring := -1
	for i, d := range devices {
		name := strings.ToLower(d.Name)
		if name == sel {
			return i
		}
		if substring < 0 && strings.Contains(name, sel) {
			substring = i
		}
	}
	return substring
}

// selectDevice resolves a selector to a device, falling back to the platform
// default when the selector matches nothing. The fallback is logged as a
// warning but is not an error: a missing device name must not prevent the
// client from starting. otherKind, when non-empty, is searched for the same
// selector purely to produce a better log message — a selector that only
// matches the opposite device kind almost always means input_device and
// output_device are swapped in the config.
func selectDevice(devices, otherKind []DeviceInfo, selector, kind string) (DeviceInfo, bool) {
	if selector != "" {
		if i := MatchDevice(devices, selector); i >= 0 {
			slog.Info("audio device selected", "kind", kind, "device", devices[i].Name)
			return devices[i], true
		}
		if j := MatchDevice(otherKind, selector); j >= 0 {
			slog.Error("device selector matches the opposite device kind — input_device and output_device are probably swapped",
				"kind", kind,
				"selector", selector,
				"matched", otherKind[j].Name,
			)
		} else {
			slog.Warn("audio device not found, using default",
				"kind", kind,
				"selector", selector,
			)
		}
	}

	for _, d := range devices {
		if d.IsDefault {
			return d, true
		}
	}
	if len(devices) > 0 {
		return devices[0], true
	}
	return DeviceInfo{}, false
}
