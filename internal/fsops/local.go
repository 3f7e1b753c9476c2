package fsops

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/canopyfs/canopy/internal/canopyerr"
)

// Local implements Backend against the real, local filesystem, following
// the teacher's LocalStorage (storage/local.go) generalized with the
// write-side primitives the mutation engine needs.
type Local struct{}

// NewLocal creates a Local backend.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Stat(real string) (Info, error) {
	fi, err := os.Stat(real)
	if err != nil {
		return Info{}, classify("stat", real, err)
	}
	return Info{Name: fi.Name(), IsDir: fi.IsDir(), Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (l *Local) Mkdir(real string, recursive bool) error {
	if recursive {
		if err := os.MkdirAll(real, 0o755); err != nil {
			return classify("mkdir", real, err)
		}
		return nil
	}
	if err := os.Mkdir(real, 0o755); err != nil {
		return classify("mkdir", real, err)
	}
	return nil
}

func (l *Local) Rm(real string) error {
	if err := os.Remove(real); err != nil {
		return classify("rm", real, err)
	}
	return nil
}

func (l *Local) Rmdir(real string, recursive bool) error {
	if recursive {
		if err := os.RemoveAll(real); err != nil {
			return classify("rmdir", real, err)
		}
		return nil
	}
	if err := os.Remove(real); err != nil {
		return classify("rmdir", real, err)
	}
	return nil
}

func (l *Local) Rename(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EXDEV) {
		fi, statErr := os.Stat(src)
		if statErr != nil {
			return classify("rename", src, statErr)
		}
		if fi.IsDir() {
			if cpErr := l.CopyDir(src, dst); cpErr != nil {
				return cpErr
			}
		} else if cpErr := l.CopyFile(src, dst); cpErr != nil {
			return cpErr
		}
		if rmErr := os.RemoveAll(src); rmErr != nil {
			return classify("rename", src, rmErr)
		}
		return nil
	}
	return classify("rename", src, err)
}

func (l *Local) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return classify("copyFile", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return classify("copyFile", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return classify("copyFile", dst, err)
	}
	return nil
}

func (l *Local) CopyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return classify("copyDir", dst, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return classify("copyDir", src, err)
	}
	for _, entry := range entries {
		srcChild := filepath.Join(src, entry.Name())
		dstChild := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := l.CopyDir(srcChild, dstChild); err != nil {
				return err
			}
			continue
		}
		if err := l.CopyFile(srcChild, dstChild); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) OpenWrite(real string) (io.WriteCloser, error) {
	f, err := os.Create(real)
	if err != nil {
		return nil, classify("openWrite", real, err)
	}
	return f, nil
}

func (l *Local) List(real string) ([]Info, error) {
	entries, err := os.ReadDir(real)
	if err != nil {
		return nil, classify("list", real, err)
	}
	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue // skip entries we can't stat, like the watcher's rescan
		}
		infos = append(infos, Info{Name: fi.Name(), IsDir: fi.IsDir(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	return infos, nil
}

// classify maps a raw OS error to a categorized *canopyerr.Error.
func classify(op, path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return canopyerr.New(canopyerr.NotFound, op, path, err)
	case errors.Is(err, syscall.ENOTEMPTY):
		// Checked before os.IsExist, which also reports true for ENOTEMPTY.
		return canopyerr.New(canopyerr.NotEmpty, op, path, err)
	case os.IsExist(err):
		return canopyerr.New(canopyerr.Exists, op, path, err)
	case os.IsPermission(err):
		return canopyerr.New(canopyerr.Permission, op, path, err)
	case errors.Is(err, syscall.EXDEV):
		return canopyerr.New(canopyerr.CrossDevice, op, path, err)
	default:
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			switch {
			case errors.Is(pathErr.Err, syscall.ENOTEMPTY):
				return canopyerr.New(canopyerr.NotEmpty, op, path, err)
			case errors.Is(pathErr.Err, syscall.EACCES):
				return canopyerr.New(canopyerr.Permission, op, path, err)
			}
		}
		return canopyerr.New(canopyerr.IOError, op, path, err)
	}
}
