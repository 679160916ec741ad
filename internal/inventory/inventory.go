// Package inventory lists the recordings present in the base directory.
package inventory

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/mcap-offload/internal/sandbox"
)

// DefaultExtension is the recording file extension listed by default.
const DefaultExtension = ".mcap"

// FileInfo is one listed recording.
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Listing is the result of scanning a directory.
type Listing struct {
	Dir   string     `json:"dir"`
	Files []FileInfo `json:"files"`
	Count int        `json:"count"`
}

// ErrDirMissing is returned when the scanned directory does not exist.
var ErrDirMissing = errors.New("recordings directory does not exist")

// List returns the regular files in dir (non-recursive) whose name ends with
// ext, newest modification first. A symlink is listed, with its target's size
// and times, when the target is a regular file inside dir. Subdirectories are
// skipped.
func List(dir, ext string) (Listing, error) {
	if ext == "" {
		ext = DefaultExtension
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return Listing{}, fmt.Errorf("%w: %s", ErrDirMissing, dir)
	}
	if err != nil {
		return Listing{}, fmt.Errorf("read recordings directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		info, ok, err := statEntry(dir, entry)
		if err != nil {
			return Listing{}, err
		}
		if !ok {
			continue
		}
		files = append(files, FileInfo{
			Name:       entry.Name(),
			Size:       info.Size(),
			CreatedAt:  changeTime(info),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})

	return Listing{Dir: dir, Files: files, Count: len(files)}, nil
}

// statEntry returns the FileInfo to list for entry, following a symlink only
// when it resolves inside dir. ok is false for entries that are skipped.
func statEntry(dir string, entry os.DirEntry) (info os.FileInfo, ok bool, err error) {
	switch {
	case entry.Type().IsRegular():
		info, err = entry.Info()
	case entry.Type()&os.ModeSymlink != 0:
		var target string
		target, err = sandbox.ResolveInside(dir, entry.Name())
		if errors.Is(err, sandbox.ErrPathTraversal) {
			return nil, false, nil
		}
		if err == nil {
			info, err = os.Stat(target)
		}
	default:
		return nil, false, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", entry.Name(), err)
	}
	return info, info.Mode().IsRegular(), nil
}

// TotalSize sums the sizes of all listed files.
func (l Listing) TotalSize() int64 {
	var total int64
	for _, f := range l.Files {
		total += f.Size
	}
	return total
}

// Checksum returns the hex BLAKE3-256 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
