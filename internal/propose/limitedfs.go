package propose

import (
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
)

// LimitedFs bounds a billy.Filesystem so a hostile or runaway remote
// cannot exhaust memory during an in-memory clone. Only the write path
// is limited; reads pass through.
type LimitedFs struct {
	Fs            billy.Filesystem
	MaxFiles      int64
	TotalFileSize int64

	currentFiles atomic.Int64
	currentSize  atomic.Int64
}

var _ billy.Filesystem = (*LimitedFs)(nil)

// limitedFile counts written bytes against the owning filesystem's
// budget.
type limitedFile struct {
	billy.File
	fs *LimitedFs
}

func (f *LimitedFs) countFile() error {
	if f.currentFiles.Add(1) > f.MaxFiles {
		return fmt.Errorf("%w: file count limit %d exceeded", fs.ErrInvalid, f.MaxFiles)
	}
	return nil
}

func (f *LimitedFs) wrap(file billy.File, err error) (billy.File, error) {
	if err != nil {
		return nil, err
	}
	return &limitedFile{File: file, fs: f}, nil
}

// Create implements billy.Filesystem.
func (f *LimitedFs) Create(filename string) (billy.File, error) {
	if err := f.countFile(); err != nil {
		return nil, err
	}
	return f.wrap(f.Fs.Create(filename))
}

// Open implements billy.Filesystem.
func (f *LimitedFs) Open(filename string) (billy.File, error) {
	return f.Fs.Open(filename)
}

// OpenFile implements billy.Filesystem.
func (f *LimitedFs) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&os.O_CREATE != 0 {
		if err := f.countFile(); err != nil {
			return nil, err
		}
	}
	return f.wrap(f.Fs.OpenFile(filename, flag, perm))
}

// Stat implements billy.Filesystem.
func (f *LimitedFs) Stat(filename string) (os.FileInfo, error) {
	return f.Fs.Stat(filename)
}

// Rename implements billy.Filesystem.
func (f *LimitedFs) Rename(oldpath, newpath string) error {
	return f.Fs.Rename(oldpath, newpath)
}

// Remove implements billy.Filesystem.
func (f *LimitedFs) Remove(filename string) error {
	return f.Fs.Remove(filename)
}

// Join implements billy.Filesystem.
func (f *LimitedFs) Join(elem ...string) string {
	return f.Fs.Join(elem...)
}

// TempFile implements billy.Filesystem.
func (f *LimitedFs) TempFile(dir, prefix string) (billy.File, error) {
	if err := f.countFile(); err != nil {
		return nil, err
	}
	return f.wrap(f.Fs.TempFile(dir, prefix))
}

// ReadDir implements billy.Filesystem.
func (f *LimitedFs) ReadDir(path string) ([]os.FileInfo, error) {
	return f.Fs.ReadDir(path)
}

// MkdirAll implements billy.Filesystem.
func (f *LimitedFs) MkdirAll(filename string, perm os.FileMode) error {
	if err := f.countFile(); err != nil {
		return err
	}
	return f.Fs.MkdirAll(filename, perm)
}

// Lstat implements billy.Filesystem.
func (f *LimitedFs) Lstat(filename string) (os.FileInfo, error) {
	return f.Fs.Lstat(filename)
}

// Symlink implements billy.Filesystem.
func (f *LimitedFs) Symlink(target, link string) error {
	if err := f.countFile(); err != nil {
		return err
	}
	return f.Fs.Symlink(target, link)
}

// Readlink implements billy.Filesystem.
func (f *LimitedFs) Readlink(link string) (string, error) {
	return f.Fs.Readlink(link)
}

// Chroot implements billy.Filesystem. The chrooted filesystem shares
// this filesystem's budget.
func (f *LimitedFs) Chroot(path string) (billy.Filesystem, error) {
	chroot, err := f.Fs.Chroot(path)
	if err != nil {
		return nil, err
	}
	limited := &LimitedFs{
		Fs:            chroot,
		MaxFiles:      f.MaxFiles,
		TotalFileSize: f.TotalFileSize,
	}
	limited.currentFiles.Store(f.currentFiles.Load())
	limited.currentSize.Store(f.currentSize.Load())
	return limited, nil
}

// Root implements billy.Filesystem.
func (f *LimitedFs) Root() string {
	return f.Fs.Root()
}

// Write implements billy.File.
func (f *limitedFile) Write(p []byte) (int, error) {
	if f.fs.currentSize.Add(int64(len(p))) > f.fs.TotalFileSize {
		return 0, fmt.Errorf("%w: total size limit %d exceeded", fs.ErrInvalid, f.fs.TotalFileSize)
	}
	return f.File.Write(p)
}
