package geo

import "time"

// usZoneBands approximates the original's coordinate-based timezone lookup
// for the continental US market footprint this service operates in, keyed
// by western longitude boundary. No third-party coordinate-to-timezone
// library appears anywhere in this corpus; golang.org/x/time addresses rate
// limiting, not calendars, so this stays on the standard library
// (time.LoadLocation) rather than inventing a dependency. This is coarser
// than true timezone-polygon lookup (it doesn't know about zone carve-outs
// like western Kentucky), acceptable because TimeZone only affects XMLTV's
// original-air-date fields for News/isNew programs.
var usZoneBands = []struct {
	maxWestLongitude float64
	name             string
}{
	{-67, "America/New_York"},
	{-87, "America/New_York"},
	{-101, "America/Chicago"},
	{-115, "America/Denver"},
	{-125, "America/Los_Angeles"},
	{-141, "America/Anchorage"},
	{-180, "Pacific/Honolulu"},
}

func lookupTimeZone(lat, lon float64) (string, bool) {
	if lat == 0 && lon == 0 {
		return "", false
	}
	for _, b := range usZoneBands {
		if lon >= b.maxWestLongitude {
			if _, err := time.LoadLocation(b.name); err != nil {
				return "", false
			}
			return b.name, true
		}
	}
	return "", false
}
