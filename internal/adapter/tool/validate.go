package tool

import "fmt"

// RequireField returns an error if the string value is empty.
func RequireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("'%s' is required", name)
	}
	return nil
}

// ValidateNonNegative checks that value is >= 0.
func ValidateNonNegative(name string, value int) error {
	if value < 0 {
		return fmt.Errorf("'%s' must be >= 0", name)
	}
	return nil
}

// ValidateAll returns the first non-nil error from the given list.
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
