package utils

import (
	"errors"
	"fmt"
	"io/fs"
)

func MakeError(err error, detailsBody string, args ...any) error {
	return fmt.Errorf("%w: "+detailsBody, append([]any{err}, args...)...)
}

// Maps "file does not exist" errors to nil, leaving any other error untouched. Useful
// when loading files that are allowed to be missing
func IgnoreNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}
