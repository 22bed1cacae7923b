package helper

import "fmt"

// NewError wraps err with the action that failed. The wrapped error stays
// matchable with errors.Is/errors.As.
func NewError(action string, err error) error {
	return fmt.Errorf("error in %s: %w", action, err)
}
