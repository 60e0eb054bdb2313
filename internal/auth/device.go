package auth

import "context"

// Device is a paired client. ID is assigned at pairing time; Name is what
// the user typed on the device.
type Device struct {
	ID   string
	Name string
}

// Subject is the audit subject written for requests made by the device.
func (d Device) Subject() string {
	if d.Name == "" {
		return d.ID
	}
	return d.Name + " (" + d.ID + ")"
}

type contextKey string

const deviceKey contextKey = "pairedDevice"

// testDevice is attached to requests that use the development test-mode header.
var testDevice = Device{ID: "test-device", Name: "Test Device"}

// WithDevice stores the authenticated device in the context.
func WithDevice(ctx context.Context, device Device) context.Context {
	return context.WithValue(ctx, deviceKey, device)
}

// DeviceFromContext returns the authenticated device, if present.
func DeviceFromContext(ctx context.Context) (Device, bool) {
	if ctx == nil {
		return Device{}, false
	}
	device, ok := ctx.Value(deviceKey).(Device)
	return device, ok
}

// SubjectFromContext returns the audit subject for the request, or "" for
// anonymous requests.
func SubjectFromContext(ctx context.Context) string {
	device, ok := DeviceFromContext(ctx)
	if !ok {
		return ""
	}
	return device.Subject()
}
