// Package domain models the live lightning and storm-cell data layered onto the
// overlay map, plus the pure geometry used to place it.
//
// # Data Sources
//
// Lightning pulses arrive over the vendor's websocket feed as JSON. A message is
// either a single object or an array of objects; only elements carrying numeric
// "lat" and "lon" members become events. Keep-alive pings and other non-JSON
// frames are dropped without error. See [ParseStrikeMessage].
//
// Storm polygons come from the backend's /api/v1/weather/get-polygons endpoint,
// which proxies the vendor's storm-cell product. Each record carries a primary
// alert outline and, for some records, a smaller storm-cell outline.
//
// # Vendor Data Conventions
//
// Coordinates:
//
//	Each vertex is a {"lat": .., "lng": ..} object. Axis order is not reliable
//	upstream: some vertices arrive with latitude and longitude exchanged.
//	A pair is swapped only when its latitude is out of range, its longitude
//	value is a valid latitude and its latitude value is a valid longitude.
//	Any other invalid pair is reported and passed through. See [NormalizeCoordinate].
//
// Direction:
//
//	Degrees in the meteorological convention (0 = North, clockwise) giving the
//	direction the storm is coming FROM. The direction of travel is therefore
//	direction + 180°. See [DestinationPoint].
//
// Speed:
//
//	Either a JSON number or a string with a unit suffix, e.g. "12 mph". The
//	value is always miles per hour regardless of the suffix.
//
// Severity:
//
//	"Severe", "Moderate", anything else (including "Unknown" and empty) is
//	rendered with the default color.
//
// # Radar
//
// The PulseRad product is a time-sliced raster. The metadata endpoint reports a
// preferred and a latest time slot; the preferred slot wins when present.
package domain
