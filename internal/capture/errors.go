package capture

import "errors"

// Capability errors. Each aborts a start attempt and is shown to the user as is.
var (
	ErrNoAudioAPI       = errors.New("audio capture API unavailable")
	ErrInsecureContext  = errors.New("microphone access not allowed in this context")
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no microphone device found")
	ErrDeviceBusy       = errors.New("microphone in use by another application")
	ErrConstraints      = errors.New("audio constraints cannot be satisfied")
)

var capabilityErrors = []error{
	ErrNoAudioAPI,
	ErrInsecureContext,
	ErrPermissionDenied,
	ErrNoDevice,
	ErrDeviceBusy,
	ErrConstraints,
}

// IsCapability reports whether err is one of the capability errors above.
func IsCapability(err error) bool {
	for _, target := range capabilityErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Describe returns the user-facing message for a capability error.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoAudioAPI):
		return "Audio capture is not supported on this system"
	case errors.Is(err, ErrInsecureContext):
		return "Microphone access requires a secure context"
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone permission denied. Allow microphone access in system settings and try again"
	case errors.Is(err, ErrNoDevice):
		return "No microphone detected. Check that a device is connected"
	case errors.Is(err, ErrDeviceBusy):
		return "Microphone is busy. Close other programs using it"
	case errors.Is(err, ErrConstraints):
		return "Audio constraints cannot be satisfied. Try another input device"
	default:
		return "Cannot access microphone: " + err.Error()
	}
}
