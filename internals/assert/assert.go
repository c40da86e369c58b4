// Package assert panics on broken startup invariants.
package assert

import "fmt"

// Assert panics with msg when condition does not hold.
func Assert(condition bool, msg string, args ...any) {
	if !condition {
		panic(fmt.Sprintf(msg, args...))
	}
}

// AssertNil panics when err is not nil.
func AssertNil(err error, msg string, args ...any) {
	if err != nil {
		panic(fmt.Sprintf(msg, args...) + ": " + err.Error())
	}
}
