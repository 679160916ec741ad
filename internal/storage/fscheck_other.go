//go:build !darwin && !linux

package storage

import "errors"

func statFilesystem(string) (string, error) {
	return "", errors.ErrUnsupported
}
