package audioflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Settings keys stored per device.
const (
	SettingAddress   = "address"
	SettingModel     = "model"
	SettingSerial    = "serial"
	SettingName      = "name"
	SettingExclusive = "exclusive"
)

// Per-zone settings fields.
const (
	zoneFieldEnabled = "enabled"
	zoneFieldName    = "name"
)

// ZoneEnabledKey is the settings key recording whether zone n is enabled.
func ZoneEnabledKey(zone int) string {
	return fmt.Sprintf("zone_%d_%s", zone, zoneFieldEnabled)
}

// ZoneNameKey is the settings key holding zone n's label.
func ZoneNameKey(zone int) string {
	return fmt.Sprintf("zone_%d_%s", zone, zoneFieldName)
}

// parseZoneKey splits "zone_<n>_<field>" into its parts.
func parseZoneKey(key string) (int, string, bool) {
	rest, ok := strings.CutPrefix(key, "zone_")
	if !ok {
		return 0, "", false
	}
	num, field, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, "", false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, "", false
	}
	if field != zoneFieldEnabled && field != zoneFieldName {
		return 0, "", false
	}
	return n, field, true
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

// parseBool accepts the spellings users and older firmware produce.
func parseBool(s string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "on", "yes", "enable", "enabled":
		return true, true
	case "false", "0", "off", "no", "disable", "disabled":
		return false, true
	default:
		return false, false
	}
}
