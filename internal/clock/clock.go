// Package clock abstracts time.Now so scheduling decisions can be
// tested deterministically.
package clock

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real wraps time.Now.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}
