package etl

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Bundle writes the given files into a gzip-compressed tar archive at
// target. Entries are stored by base name.
func Bundle(target string, files []string) error {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	if err := writeBundle(out, files); err != nil {
		out.Close()
		os.Remove(target)
		return err
	}
	return out.Close()
}

func writeBundle(w io.Writer, files []string) error {
	gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gz)
	for _, path := range files {
		if err := addToBundle(tw, path); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	return gz.Close()
}

func addToBundle(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bundle %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("bundle %s: %w", path, err)
	}
	hdr := &tar.Header{
		Name:    filepath.Base(path),
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("bundle %s: %w", path, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("bundle %s: %w", path, err)
	}
	return nil
}
