// Package testing provides SSH mock utilities for testing.
// This package simulates a remote machine with an in-memory filesystem.
package testing

import (
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
)

// MockFS simulates an in-memory remote filesystem with files, directories
// and symlinks. Symlinks are never followed except by Readlink.
type MockFS struct {
	mu    sync.RWMutex
	files map[string][]byte   // path -> content
	dirs  map[string]struct{} // directories
	links map[string]string   // link path -> target
}

// NewMockFS creates a new empty mock filesystem.
func NewMockFS() *MockFS {
	return &MockFS{
		files: make(map[string][]byte),
		dirs:  make(map[string]struct{}),
		links: make(map[string]string),
	}
}

func clean(p string) string {
	return path.Clean(p)
}

func (fs *MockFS) existsLocked(p string) bool {
	if _, ok := fs.dirs[p]; ok {
		return true
	}
	if _, ok := fs.files[p]; ok {
		return true
	}
	_, ok := fs.links[p]
	return ok
}

// Mkdir creates a directory. Fails if the path exists or the parent is missing,
// like mkdir without -p.
func (fs *MockFS) Mkdir(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = clean(p)
	if fs.existsLocked(p) {
		return errors.New("File exists")
	}
	if parent := path.Dir(p); parent != "/" {
		if _, ok := fs.dirs[parent]; !ok {
			return errors.New("No such file or directory")
		}
	}
	fs.dirs[p] = struct{}{}
	return nil
}

// MkdirAll creates a directory and all parent directories.
func (fs *MockFS) MkdirAll(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mkdirAllLocked(clean(p))
	return nil
}

func (fs *MockFS) mkdirAllLocked(p string) {
	for cur := p; cur != "/" && cur != "."; cur = path.Dir(cur) {
		fs.dirs[cur] = struct{}{}
	}
}

// WriteFile writes content to a file, creating parent directories as needed.
func (fs *MockFS) WriteFile(p string, content []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = clean(p)
	if _, ok := fs.dirs[p]; ok {
		return errors.New("Is a directory")
	}
	fs.mkdirAllLocked(path.Dir(p))
	fs.files[p] = append([]byte(nil), content...)
	return nil
}

// AppendFile appends content to a file, creating it if needed.
func (fs *MockFS) AppendFile(p string, content []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = clean(p)
	if _, ok := fs.dirs[p]; ok {
		return errors.New("Is a directory")
	}
	if _, ok := fs.dirs[path.Dir(p)]; !ok && path.Dir(p) != "/" {
		return errors.New("No such file or directory")
	}
	fs.files[p] = append(fs.files[p], content...)
	return nil
}

// ReadFile reads the content of a file. Returns error if file doesn't exist.
func (fs *MockFS) ReadFile(p string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	content, exists := fs.files[clean(p)]
	if !exists {
		return nil, errors.New("file not found")
	}
	return content, nil
}

// Remove removes a file, symlink or directory and all its contents, like rm -rf.
func (fs *MockFS) Remove(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = clean(p)
	delete(fs.files, p)
	delete(fs.links, p)
	if _, ok := fs.dirs[p]; !ok {
		return nil
	}
	delete(fs.dirs, p)

	prefix := p + "/"
	for k := range fs.files {
		if strings.HasPrefix(k, prefix) {
			delete(fs.files, k)
		}
	}
	for k := range fs.dirs {
		if strings.HasPrefix(k, prefix) {
			delete(fs.dirs, k)
		}
	}
	for k := range fs.links {
		if strings.HasPrefix(k, prefix) {
			delete(fs.links, k)
		}
	}
	return nil
}

// Symlink creates or replaces the symlink at link, like ln -nsf.
func (fs *MockFS) Symlink(target, link string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	link = clean(link)
	if _, ok := fs.dirs[link]; ok {
		return errors.New("cannot overwrite directory")
	}
	if parent := path.Dir(link); parent != "/" {
		if _, ok := fs.dirs[parent]; !ok {
			return errors.New("No such file or directory")
		}
	}
	delete(fs.files, link)
	fs.links[link] = target
	return nil
}

// Readlink returns the target of a symlink.
func (fs *MockFS) Readlink(p string) (string, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	target, ok := fs.links[clean(p)]
	return target, ok
}

// Rename moves a file, symlink or directory tree, like mv.
func (fs *MockFS) Rename(src, dst string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	src, dst = clean(src), clean(dst)
	if !fs.existsLocked(src) {
		return errors.New("No such file or directory")
	}
	if fs.existsLocked(dst) {
		return errors.New("destination exists")
	}

	move := func(k string) (string, bool) {
		if k == src {
			return dst, true
		}
		if strings.HasPrefix(k, src+"/") {
			return dst + strings.TrimPrefix(k, src), true
		}
		return "", false
	}

	for k, v := range fs.files {
		if nk, ok := move(k); ok {
			delete(fs.files, k)
			fs.files[nk] = v
		}
	}
	for k := range fs.dirs {
		if nk, ok := move(k); ok {
			delete(fs.dirs, k)
			fs.dirs[nk] = struct{}{}
		}
	}
	for k, v := range fs.links {
		if nk, ok := move(k); ok {
			delete(fs.links, k)
			fs.links[nk] = v
		}
	}
	return nil
}

// CopyTree copies the contents of src into dst, skipping entries named skip.
func (fs *MockFS) CopyTree(src, dst, skip string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	src, dst = clean(src), clean(dst)
	if _, ok := fs.dirs[src]; !ok {
		return errors.New("No such file or directory")
	}

	rel := func(k string) (string, bool) {
		if !strings.HasPrefix(k, src+"/") {
			return "", false
		}
		r := strings.TrimPrefix(k, src+"/")
		for _, part := range strings.Split(r, "/") {
			if part == skip {
				return "", false
			}
		}
		return r, true
	}

	fs.mkdirAllLocked(dst)
	for k := range fs.dirs {
		if r, ok := rel(k); ok {
			fs.dirs[dst+"/"+r] = struct{}{}
		}
	}
	for k, v := range fs.files {
		if r, ok := rel(k); ok {
			fs.files[dst+"/"+r] = append([]byte(nil), v...)
		}
	}
	for k, v := range fs.links {
		if r, ok := rel(k); ok {
			fs.links[dst+"/"+r] = v
		}
	}
	return nil
}

// List returns the sorted names of the direct children of dir.
func (fs *MockFS) List(dir string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir = clean(dir)
	if _, ok := fs.dirs[dir]; !ok {
		return nil, errors.New("No such file or directory")
	}

	seen := make(map[string]struct{})
	collect := func(k string) {
		if path.Dir(k) == dir {
			seen[path.Base(k)] = struct{}{}
		}
	}
	for k := range fs.dirs {
		collect(k)
	}
	for k := range fs.files {
		collect(k)
	}
	for k := range fs.links {
		collect(k)
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Find returns the sorted paths of files under root whose base name is name
// and whose depth below root is at most maxDepth (0 means unlimited).
func (fs *MockFS) Find(root, name string, maxDepth int) []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	root = clean(root)
	var out []string
	for k := range fs.files {
		if !strings.HasPrefix(k, root+"/") || path.Base(k) != name {
			continue
		}
		depth := strings.Count(strings.TrimPrefix(k, root+"/"), "/") + 1
		if maxDepth > 0 && depth > maxDepth {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Exists returns true if the path exists (file, directory or symlink).
func (fs *MockFS) Exists(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.existsLocked(clean(p))
}

// IsDir returns true if the path exists and is a directory.
func (fs *MockFS) IsDir(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, exists := fs.dirs[clean(p)]
	return exists
}

// IsFile returns true if the path exists and is a regular file.
func (fs *MockFS) IsFile(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, exists := fs.files[clean(p)]
	return exists
}

// IsSymlink returns true if the path is a symlink.
func (fs *MockFS) IsSymlink(p string) bool {
	_, ok := fs.Readlink(p)
	return ok
}
