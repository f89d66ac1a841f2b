package devices

import (
	"fmt"
	"io"

	"github.com/gen2brain/malgo"
)

// DeviceInfo describes one audio endpoint.
type DeviceInfo struct {
	ID      malgo.DeviceID
	Name    string
	Formats []malgo.DataFormat
	Error   string
}

// ListCaptureDevices enumerates microphone endpoints.
func ListCaptureDevices(ctx *Context) ([]DeviceInfo, error) {
	return listDevices(ctx, malgo.Capture)
}

// ListPlaybackDevices enumerates speaker endpoints.
func ListPlaybackDevices(ctx *Context) ([]DeviceInfo, error) {
	return listDevices(ctx, malgo.Playback)
}

func listDevices(ctx *Context, kind malgo.DeviceType) ([]DeviceInfo, error) {
	if ctx == nil || ctx.Raw() == nil {
		return nil, fmt.Errorf("audio context is nil")
	}

	infos, err := ctx.Raw().Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	result := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		entry := DeviceInfo{ID: info.ID, Name: info.Name()}
		full, err := ctx.Raw().DeviceInfo(kind, info.ID, malgo.Shared)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Formats = full.Formats
		}
		result = append(result, entry)
	}
	return result, nil
}

// PrintAllDevices writes every capture and playback endpoint, for the
// daemon's --list-devices flag.
func PrintAllDevices(w io.Writer, ctx *Context) error {
	capture, err := ListCaptureDevices(ctx)
	if err != nil {
		return err
	}
	playback, err := ListPlaybackDevices(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Capture Devices:")
	printDevices(w, capture)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Playback Devices:")
	printDevices(w, playback)
	return nil
}

func printDevices(w io.Writer, devices []DeviceInfo) {
	for i, device := range devices {
		status := "ok"
		if device.Error != "" {
			status = device.Error
		}
		fmt.Fprintf(w, "    %d: %s [%s] formats: %+v\n", i, device.Name, status, device.Formats)
	}
}
