// Package sentinel provides a string-backed error type so sentinel errors can
// be declared as constants and still be matched with errors.Is.
package sentinel

var _ error = Error("")

// Error is an immutable error value.
type Error string

func (e Error) Error() string {
	return string(e)
}
