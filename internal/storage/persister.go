// Package storage persists artifacts produced by a session, such as
// screenshots, and names them.
package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Persister writes a stream to a named location.
type Persister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// FilePersister persists files to a filesystem. A nil Fs means the OS
// filesystem.
type FilePersister struct {
	Fs afero.Fs
}

// Persist writes the contents of data to path, creating parent directories
// and truncating any existing file.
func (p FilePersister) Persist(_ context.Context, path string, data io.Reader) (err error) {
	fs := p.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cp := filepath.Clean(path)

	dir := filepath.Dir(cp)
	if err = fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}

	f, err := fs.OpenFile(cp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating file %q: %w", cp, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing file %q: %w", cp, cerr)
		}
	}()

	bf := bufio.NewWriter(f)
	if _, err := io.Copy(bf, data); err != nil {
		return fmt.Errorf("copying data to file: %w", err)
	}
	if err := bf.Flush(); err != nil {
		return fmt.Errorf("flushing data to disk: %w", err)
	}
	return nil
}
