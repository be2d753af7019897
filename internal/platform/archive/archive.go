// Package archive packs submitted source into the tar stream the container
// engine expects for file uploads.
package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"time"
)

// FileName is the name of the single entry in every archive.
const FileName = "main.py"

// Build returns a tar stream holding one regular file named FileName with the
// UTF-8 bytes of source. The same source and modTime always yield the same bytes.
func Build(source string, modTime time.Time) ([]byte, error) {
	data := []byte(source)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     FileName,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  modTime.Truncate(time.Second),
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return buf.Bytes(), nil
}

// New builds an archive stamped with the current time.
func New(source string) ([]byte, error) {
	return Build(source, time.Now())
}
