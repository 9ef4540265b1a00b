package clock

import "time"

// NowFunc returns current time.  Tests override it so risk scoring, TTL
// expiry and audit ordering stay deterministic.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }
