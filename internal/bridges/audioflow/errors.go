package audioflow

import "errors"

// Domain errors for the Audioflow bridge package.
var (
	// ErrTransport is returned when a switch request fails at the network
	// or HTTP layer. The next poll tick retries.
	ErrTransport = errors.New("audioflow: transport error")

	// ErrTransportTimeout is returned when a switch request exceeds its deadline.
	ErrTransportTimeout = errors.New("audioflow: transport timeout")

	// ErrInvalidZone is returned for zone numbers outside 1..N.
	ErrInvalidZone = errors.New("audioflow: invalid zone")

	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("audioflow: invalid argument")

	// ErrSettingsWrite marks a failed best-effort settings write. It is
	// logged and never returned from a reconciliation pass.
	ErrSettingsWrite = errors.New("audioflow: settings write failed")

	// ErrDiscoveryParse is returned for datagrams that are not valid
	// discovery responses.
	ErrDiscoveryParse = errors.New("audioflow: invalid discovery response")

	// ErrDeviceNotFound is returned when no device has the given ID.
	ErrDeviceNotFound = errors.New("audioflow: device not found")

	// ErrDeviceExists is returned when adding a device whose ID is taken.
	ErrDeviceExists = errors.New("audioflow: device already exists")
)

// IsValidationError reports whether err was caused by caller input rather
// than the switch.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidZone) || errors.Is(err, ErrInvalidArgument)
}
