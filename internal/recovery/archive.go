package recovery

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const archiveTimeLayout = "2006-01-02_15-04-05"

// Archive is the zip bundle returned to the caller.
type Archive struct {
	Name    string
	Data    []byte
	Entries []string
}

// ArchiveName returns prefix + timestamp (second precision) + ".zip".
func ArchiveName(prefix string, at time.Time) string {
	return prefix + at.Format(archiveTimeLayout) + ".zip"
}

// BuildArchive writes a deflated zip at dir/name holding one flat entry per
// output and returns its bytes. The file stays in dir, which is expected to be
// the job workspace.
func BuildArchive(dir, name string, outputs []string) (Archive, error) {
	if len(outputs) == 0 {
		return Archive{}, fmt.Errorf("archive requires at least one file")
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Archive{}, fmt.Errorf("create archive: %w", err)
	}

	entries, err := writeZip(f, outputs)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close archive: %w", cerr)
	}
	if err != nil {
		return Archive{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Archive{}, fmt.Errorf("read archive: %w", err)
	}
	return Archive{Name: name, Data: data, Entries: entries}, nil
}

func writeZip(w io.Writer, outputs []string) ([]string, error) {
	zw := zip.NewWriter(w)
	entries := make([]string, 0, len(outputs))

	for _, p := range outputs {
		if err := addZipEntry(zw, p); err != nil {
			_ = zw.Close()
			return nil, err
		}
		entries = append(entries, filepath.Base(p))
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return entries, nil
}

func addZipEntry(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header for %s: %w", filepath.Base(path), err)
	}
	hdr.Name = filepath.Base(path)
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", hdr.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write %s to archive: %w", hdr.Name, err)
	}
	return nil
}
