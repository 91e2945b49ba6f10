package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ligustah/espadl/internal/asset"
)

// PartialSuffix is appended to the filename of in-progress downloads.
const PartialSuffix = ".part"

const dirPerm = 0o755

// ErrUnsafePath is returned when an order id or filename would escape the
// base directory.
var ErrUnsafePath = errors.New("layout: unsafe path component")

// Paths holds the local locations derived for one asset.
type Paths struct {
	Directory string
	Final     string
	Partial   string
}

// Resolver derives local paths below BaseDir.
type Resolver struct {
	BaseDir string
}

// NewResolver returns a Resolver rooted at baseDir.
func NewResolver(baseDir string) *Resolver {
	return &Resolver{BaseDir: filepath.Clean(baseDir)}
}

// Resolve returns the directory, final and partial paths for a.
func (r *Resolver) Resolve(a asset.Asset) (Paths, error) {
	if err := checkComponent(a.OrderID); err != nil {
		return Paths{}, fmt.Errorf("order id %q: %w", a.OrderID, err)
	}
	if err := checkComponent(a.Filename); err != nil {
		return Paths{}, fmt.Errorf("filename %q: %w", a.Filename, err)
	}

	dir := filepath.Join(r.BaseDir, a.OrderID)
	final := filepath.Join(dir, a.Filename)

	return Paths{
		Directory: dir,
		Final:     final,
		Partial:   final + PartialSuffix,
	}, nil
}

// IsStored reports whether the final file of a exists.
func (r *Resolver) IsStored(a asset.Asset) (bool, error) {
	p, err := r.Resolve(a)
	if err != nil {
		return false, err
	}
	return exists(p.Final)
}

// EnsureDirectory creates dir and its parents when missing. It reports
// whether anything was created and may be called any number of times.
func EnsureDirectory(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("ensure directory %s: %w", dir, fs.ErrExist)
		}
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("ensure directory %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return false, fmt.Errorf("ensure directory %s: %w", dir, err)
	}
	return true, nil
}

// StartingOffset returns the number of bytes already present in the partial
// file, or 0 when it does not exist.
func StartingOffset(partialPath string) (int64, error) {
	info, err := os.Stat(partialPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat partial file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("partial file %s is not a regular file", partialPath)
	}
	return info.Size(), nil
}

// Entry is a file found in the local tree.
type Entry struct {
	OrderID string

	// Filename is the final name, without PartialSuffix.
	Filename string
	Path     string
	Size     int64
	Partial  bool
}

// Scan lists the files stored one level below every order directory, in
// lexical order. A missing base directory yields no entries.
func (r *Resolver) Scan() ([]Entry, error) {
	orders, err := os.ReadDir(r.BaseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.BaseDir, err)
	}

	var entries []Entry
	for _, o := range orders {
		if !o.IsDir() || checkComponent(o.Name()) != nil {
			continue
		}

		dir := filepath.Join(r.BaseDir, o.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}

		for _, f := range files {
			if !f.Type().IsRegular() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				return nil, fmt.Errorf("scan %s: %w", dir, err)
			}

			name := f.Name()
			partial := strings.HasSuffix(name, PartialSuffix)
			entries = append(entries, Entry{
				OrderID:  o.Name(),
				Filename: strings.TrimSuffix(name, PartialSuffix),
				Path:     filepath.Join(dir, name),
				Size:     info.Size(),
				Partial:  partial,
			})
		}
	}

	return entries, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func checkComponent(s string) error {
	if s == "" || s == "." || s == ".." {
		return ErrUnsafePath
	}
	if strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return ErrUnsafePath
	}
	return nil
}
