// Package errd contains helpers for annotating errors on return.
package errd

import (
	"fmt"

	"golang.org/x/xerrors"
)

// annotated records the location at which an error was annotated
// so that %+v prints the path an error took out of the package.
type annotated struct {
	msg   string
	err   error
	frame xerrors.Frame
}

func (e *annotated) Error() string {
	return fmt.Sprint(e)
}

func (e *annotated) Format(s fmt.State, v rune) { xerrors.FormatError(e, s, v) }

func (e *annotated) FormatError(p xerrors.Printer) error {
	p.Print(e.msg)
	e.frame.Format(p)
	return e.err
}

func (e *annotated) Unwrap() error {
	return e.err
}

// Wrap annotates *err with the formatted message if it is non nil.
// It is meant to be deferred in functions with a named error return.
func Wrap(err *error, f string, v ...interface{}) {
	if *err == nil {
		return
	}
	*err = &annotated{
		msg:   fmt.Sprintf(f, v...),
		err:   *err,
		frame: xerrors.Caller(1),
	}
}
