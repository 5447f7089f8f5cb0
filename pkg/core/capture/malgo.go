package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/lingo-live/pkg/core"
	"github.com/vango-go/lingo-live/pkg/core/pcm"
)

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	Name    string
	Default bool
}

// MalgoSource captures from a miniaudio device as mono float32.
//
// The device is capture-only, so miniaudio keeps invoking the data callback
// without any playback path attached.
type MalgoSource struct {
	// DeviceName selects a device by case-insensitive substring. Empty means
	// the system default.
	DeviceName string
	Logger     *slog.Logger
}

// Open initializes a miniaudio context and starts a capture device.
func (s *MalgoSource) Open(format pcm.Format, blockSize int, handler func([]float32)) (Stream, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, func(message string) {
		logger.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, core.NewCaptureError("init audio context", err)
	}
	stream := &malgoStream{ctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(format.SampleRate)
	if blockSize > 0 {
		cfg.PeriodSizeInFrames = uint32(blockSize)
	}

	var devices []malgo.DeviceInfo
	if s.DeviceName != "" {
		devices, err = mctx.Devices(malgo.Capture)
		if err != nil {
			_ = stream.Close()
			return nil, core.NewCaptureError("enumerate capture devices", err)
		}
		idx := matchDevice(devices, s.DeviceName)
		if idx < 0 {
			_ = stream.Close()
			return nil, core.NewCaptureError(fmt.Sprintf("capture device %q not found", s.DeviceName), nil)
		}
		cfg.Capture.DeviceID = devices[idx].ID.Pointer()
		logger.Info("using capture device", "device", devices[idx].Name())
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if len(in) == 0 {
				return
			}
			handler(pcm.BytesToFloat32(in))
		},
	})
	if err != nil {
		_ = stream.Close()
		return nil, core.NewCaptureError("init capture device", err)
	}
	stream.dev = dev

	if err := dev.Start(); err != nil {
		_ = stream.Close()
		return nil, core.NewCaptureError("start capture device", err)
	}
	return stream, nil
}

func matchDevice(devices []malgo.DeviceInfo, name string) int {
	want := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name()), want) {
			return i
		}
	}
	return -1
}

type malgoStream struct {
	ctx  *malgo.AllocatedContext
	dev  *malgo.Device
	once sync.Once
	err  error
}

func (m *malgoStream) Close() error {
	m.once.Do(func() {
		var errs []error
		if m.dev != nil {
			if m.dev.IsStarted() {
				if err := m.dev.Stop(); err != nil {
					errs = append(errs, fmt.Errorf("stop device: %w", err))
				}
			}
			m.dev.Uninit()
		}
		if m.ctx != nil {
			if err := m.ctx.Uninit(); err != nil {
				errs = append(errs, fmt.Errorf("uninit context: %w", err))
			}
			m.ctx.Free()
		}
		m.err = errors.Join(errs...)
	})
	return m.err
}

// ListCaptureDevices returns the capture devices miniaudio can see.
func ListCaptureDevices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, core.NewCaptureError("init audio context", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, core.NewCaptureError("enumerate capture devices", err)
	}
	out := make([]DeviceInfo, 0, len(devices))
	for i := range devices {
		out = append(out, DeviceInfo{
			Name:    devices[i].Name(),
			Default: devices[i].IsDefault != 0,
		})
	}
	return out, nil
}
