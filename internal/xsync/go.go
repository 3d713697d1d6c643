// Package xsync runs functions with panics converted to errors.
package xsync

import (
	"fmt"
	"runtime/debug"
)

// Call runs fn and returns its error. A panic in fn is recovered
// and returned as an error carrying the stack.
func Call(fn func() error) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("panic in call: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

// Go runs fn in a new goroutine and delivers its error, or its
// recovered panic, on the returned channel.
func Go(fn func() error) <-chan error {
	errs := make(chan error, 1)
	go func() {
		errs <- Call(fn)
	}()
	return errs
}
