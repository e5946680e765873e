package audioflow

import (
	"fmt"
	"strings"
)

// Zone counts per model family. The count is fixed when a device is added.
const (
	minZones     = 2
	defaultZones = 4
)

// ZoneCountForModel returns the number of zones a model code supports.
//
// Model codes carry the zone count as "<n>Z" (e.g. "3S-2Z", "3S-3Z",
// "3S-4Z"). Unknown codes fall back to four zones, the largest model.
func ZoneCountForModel(model string) int {
	m := strings.ToUpper(strings.TrimSpace(model))
	for n := minZones; n < defaultZones; n++ {
		if strings.Contains(m, fmt.Sprintf("%dZ", n)) {
			return n
		}
	}
	return defaultZones
}

// DefaultZoneName is the display name for a zone the hardware has not named.
func DefaultZoneName(zone int) string {
	return fmt.Sprintf("Zone %d", zone)
}
