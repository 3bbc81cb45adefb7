package myaudio

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/errors"
	"github.com/tphakala/vinyl-go/internal/logging"
	"github.com/tphakala/vinyl-go/internal/observability/metrics"
)

var captureLogger *slog.Logger

// captureMetrics is set once before capture starts; nil outside the full
// pipeline.
var captureMetrics *metrics.PipelineMetrics

// SetMetrics attaches the pipeline metric collectors. Must be called before
// CaptureAudio.
func SetMetrics(m *metrics.PipelineMetrics) {
	captureMetrics = m
}

// pushFrame hands a captured frame to the pipeline without ever blocking
// the miniaudio callback. Returns false when the frame had to be dropped.
func pushFrame(frameChan chan Frame, frame Frame) bool {
	select {
	case frameChan <- frame:
		return true
	default:
		if captureMetrics != nil {
			captureMetrics.FramesDropped.Inc()
		}
		return false
	}
}

func init() {
	captureLogger = logging.ForService("myaudio")
	if captureLogger == nil {
		captureLogger = logging.Discard()
	}
}

// captureSource holds information about an audio capture source.
type captureSource struct {
	Name    string
	ID      string
	Pointer unsafe.Pointer
}

// AudioDeviceInfo holds information about an audio device.
type AudioDeviceInfo struct {
	Index int
	Name  string
	ID    string
}

// ListAudioSources returns a list of available audio capture devices.
func ListAudioSources() ([]AudioDeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.Newf("failed to initialize audio context: %w", err).
			Component("myaudio").Category(errors.CategoryAudio).Build()
	}
	defer ctx.Uninit() //nolint:errcheck

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.Newf("failed to enumerate capture devices: %w", err).
			Component("myaudio").Category(errors.CategoryAudio).Build()
	}

	var devices []AudioDeviceInfo
	for i, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			captureLogger.Warn("failed to decode device ID", "index", i, "error", err)
			continue
		}
		devices = append(devices, AudioDeviceInfo{
			Index: i,
			Name:  info.Name(),
			ID:    decodedID,
		})
	}

	return devices, nil
}

// CaptureAudio opens the configured capture device and streams timestamped
// PCM frames to frameChan until quitChan is closed. The capture path never
// blocks on a full consumer: when frameChan is full the frame is dropped
// and counted. Device stop events trigger a restart request on restartChan.
func CaptureAudio(settings *conf.Settings, wg *sync.WaitGroup, quitChan, restartChan chan struct{}, frameChan chan Frame, audioLevelChan chan AudioLevelData) {
	wg.Add(1)
	go captureAudioMalgo(settings, wg, quitChan, restartChan, frameChan, audioLevelChan)
}

func captureAudioMalgo(settings *conf.Settings, wg *sync.WaitGroup, quitChan, restartChan chan struct{}, frameChan chan Frame, audioLevelChan chan AudioLevelData) {
	defer wg.Done()
	var device *malgo.Device

	// if Linux set malgo.BackendAlsa, else set nil for auto select
	var backends []malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backends = []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		backends = []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		backends = []malgo.Backend{malgo.BackendCoreaudio}
	}

	malgoCtx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		if settings.Debug {
			captureLogger.Debug("malgo", "message", strings.TrimSpace(message))
		}
	})
	if err != nil {
		captureLogger.Error("audio context init failed", "error", err)
		return
	}
	defer malgoCtx.Uninit() //nolint:errcheck

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = conf.NumChannels
	deviceConfig.SampleRate = conf.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		captureLogger.Error("failed to enumerate capture devices", "error", err)
		return
	}

	source, err := selectCaptureSource(settings, infos)
	if err != nil {
		captureLogger.Error("error selecting capture source", "error", err)
		return
	}
	deviceConfig.Capture.DeviceID = source.Pointer

	var droppedFrames int

	// deviceLost is local to this capture instance: the stop callback
	// signals it, only this goroutine receives it. The shared restartChan
	// stays single-consumer (the supervisor), so a restart request is
	// never swallowed by the exiting capture loop.
	deviceLost := make(chan struct{}, 1)

	onReceiveFrames := func(_, pSamples []byte, framecount uint32) {
		// Copy out of the miniaudio-owned buffer before handing off.
		pcm := make([]byte, len(pSamples))
		copy(pcm, pSamples)

		frame := Frame{Timestamp: time.Now(), PCM: pcm}
		if !pushFrame(frameChan, frame) {
			droppedFrames++
			if droppedFrames%100 == 1 {
				captureLogger.Warn("frame channel full, dropping audio frames",
					"dropped_total", droppedFrames)
			}
		}

		// Audio level for the UI, non-blocking as well.
		select {
		case audioLevelChan <- CalculateAudioLevel(pSamples):
		default:
		}
	}

	// onStopDevice is called when the device stops, either normally or unexpectedly
	onStopDevice := func() {
		go func() {
			select {
			case <-quitChan:
				// Quit signal has been received, do not attempt to restart
				return
			case <-time.After(100 * time.Millisecond):
				// Wait a bit before restarting to avoid potential rapid restart loops
				err := device.Start()
				if err != nil {
					captureLogger.Warn("failed to restart audio device, requesting full capture restart", "error", err)
					time.Sleep(1 * time.Second)
					select {
					case deviceLost <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: onReceiveFrames,
		Stop: onStopDevice,
	}

	device, err = malgo.InitDevice(malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		captureLogger.Error("device init failed", "source", settings.Realtime.Audio.Source, "error", err)
		return
	}

	if err := device.Start(); err != nil {
		captureLogger.Error("device start failed", "error", err)
		return
	}
	defer device.Stop() //nolint:errcheck

	fmt.Printf("Listening on source: %s (%s)\n", source.Name, source.ID)
	captureLogger.Info("audio capture started", "source", source.Name, "id", source.ID,
		"sample_rate", conf.SampleRate, "channels", conf.NumChannels)

	for {
		select {
		case <-quitChan:
			captureLogger.Info("stopping capture due to quit signal")
			return
		case <-deviceLost:
			captureLogger.Warn("audio device lost, requesting capture restart")
			select {
			case restartChan <- struct{}{}:
			default:
			}
			return
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// selectCaptureSource selects a capture device matching the configured
// source name or ID.
func selectCaptureSource(settings *conf.Settings, infos []malgo.DeviceInfo) (captureSource, error) {
	for i, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			captureLogger.Warn("failed to decode device ID", "index", i, "error", err)
			continue
		}

		if matchesDeviceSettings(decodedID, info, settings.Realtime.Audio.Source) {
			return captureSource{
				Name:    info.Name(),
				ID:      decodedID,
				Pointer: info.ID.Pointer(),
			}, nil
		}
	}

	return captureSource{}, errors.Newf("no suitable capture source found for device setting %s", settings.Realtime.Audio.Source).
		Component("myaudio").Category(errors.CategoryAudio).Build()
}

// matchesDeviceSettings checks if the device matches the settings specified by the user.
func matchesDeviceSettings(decodedID string, info malgo.DeviceInfo, audioSource string) bool {
	if runtime.GOOS == "windows" && audioSource == "sysdefault" {
		// On Windows, there is no "sysdefault" device. Use miniaudio's default device instead.
		return info.IsDefault == 1
	}
	return decodedID == audioSource || strings.Contains(info.Name(), audioSource)
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
