package gtfsrt

import "errors"

// ErrFeedUnavailable marks network/HTTP failures fetching a feed. Callers
// retry on the next cycle; it is never fatal.
var ErrFeedUnavailable = errors.New("gtfs-rt feed unavailable")

// ErrFeedParse marks an overall feed message that could not be decoded.
// The cycle is skipped and logged.
var ErrFeedParse = errors.New("gtfs-rt feed parse error")
