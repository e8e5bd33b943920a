package export

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink stores a rendered bundle and returns where it went.
type Sink interface {
	Put(ctx context.Context, b *Bundle) (string, error)
}

// DirSink writes bundles to <Root>/<session id>/.
type DirSink struct {
	Root string
}

// Put implements Sink.
func (s DirSink) Put(ctx context.Context, b *Bundle) (string, error) {
	if err := checkSessionID(b.SessionID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.Root, b.SessionID)
	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
	}
	return dir, nil
}

// WriteZip streams b as a zip archive. Entries carry the bundle creation time
// so the same bundle always produces the same archive.
func WriteZip(w io.Writer, b *Bundle) error {
	zw := zip.NewWriter(w)
	for _, f := range b.Files {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Path,
			Method:   zip.Deflate,
			Modified: b.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("zip header %s: %w", f.Path, err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return fmt.Errorf("zip write %s: %w", f.Path, err)
		}
	}
	return zw.Close()
}

// ZipSink writes each bundle as <Root>/<session id>.zip.
type ZipSink struct {
	Root string
}

// Put implements Sink.
func (s ZipSink) Put(_ context.Context, b *Bundle) (string, error) {
	if err := checkSessionID(b.SessionID); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", s.Root, err)
	}
	path := filepath.Join(s.Root, b.SessionID+".zip")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteZip(out, b); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return path, nil
}
