// Package clock funnels every time read through one overridable function so
// retry deadlines and approval expiries can be tested deterministically.
package clock

import "time"

// NowFunc returns the current time. Tests override it to freeze or step the
// clock.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }
