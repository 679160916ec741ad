package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"ceph":   {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// FilesystemType names the filesystem holding path, or its nearest existing
// parent when path does not exist yet.
func FilesystemType(path string) (string, error) {
	return filesystemTypeWith(path, statFilesystem)
}

// IsNetworkFilesystem reports whether fsType is a network mount.
func IsNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}

// CheckLocalFilesystem reports an error when the state database at path
// would live on a network mount, where SQLite locking is unreliable.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, statFilesystem)
}

func checkLocalFilesystem(path string, stat func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	fsType, err := filesystemTypeWith(path, stat)
	if err != nil {
		var pathErr *resolveError
		if errors.As(err, &pathErr) {
			return err
		}
		// Unsupported platform or statfs failure.
		return nil
	}

	if IsNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"state database %q is on network filesystem %q; SQLite requires a local filesystem. Set state.path (or --db) to a local path",
			path, fsType,
		)
	}
	return nil
}

type resolveError struct {
	path string
	err  error
}

func (e *resolveError) Error() string { return fmt.Sprintf("resolve path %q: %v", e.path, e.err) }
func (e *resolveError) Unwrap() error { return e.err }

func filesystemTypeWith(path string, stat func(string) (string, error)) (string, error) {
	existing, err := nearestExistingPath(path)
	if err != nil {
		return "", &resolveError{path: path, err: err}
	}
	return stat(existing)
}

// nearestExistingPath walks up from path until it finds something that exists.
func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}
