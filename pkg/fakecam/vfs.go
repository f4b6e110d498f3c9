package fakecam

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// vfs is the in-memory storage tree behind the fake camera's A/ root.
type vfs struct {
	files  map[string][]byte
	dirs   map[string]bool
	mtimes map[string]int64
}

func newVFS() *vfs {
	return &vfs{
		files: map[string][]byte{},
		dirs: map[string]bool{
			"A":               true,
			"A/DCIM":          true,
			"A/DCIM/100CANON": true,
		},
		mtimes: map[string]int64{},
	}
}

func clean(path string) string {
	if path != "A" {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func (v *vfs) writeFile(path string, data []byte) {
	path = clean(path)
	for dir := parent(path); dir != "" && dir != "."; dir = parent(dir) {
		v.dirs[dir] = true
	}
	v.files[path] = append([]byte(nil), data...)
	v.mtimes[path] = time.Now().Unix()
}

func (v *vfs) readFile(path string) ([]byte, bool) {
	data, ok := v.files[clean(path)]
	return data, ok
}

type fileStat struct {
	isDir bool
	size  int
	mtime int64
}

func (v *vfs) stat(path string) (fileStat, bool) {
	path = clean(path)
	if v.dirs[path] {
		return fileStat{isDir: true, mtime: v.mtimes[path]}, true
	}
	if data, ok := v.files[path]; ok {
		return fileStat{size: len(data), mtime: v.mtimes[path]}, true
	}
	return fileStat{}, false
}

func (v *vfs) list(path string) ([]string, bool) {
	path = clean(path)
	if !v.dirs[path] {
		return nil, false
	}

	seen := map[string]bool{}
	var names []string
	add := func(p string) {
		if parent(p) != path {
			return
		}
		name := p[len(path)+1:]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for p := range v.files {
		add(p)
	}
	for p := range v.dirs {
		add(p)
	}
	sort.Strings(names)
	return names, true
}

func (v *vfs) remove(path string) error {
	path = clean(path)
	if _, ok := v.files[path]; ok {
		delete(v.files, path)
		delete(v.mtimes, path)
		return nil
	}
	if v.dirs[path] {
		if names, _ := v.list(path); len(names) > 0 {
			return fmt.Errorf("directory not empty")
		}
		delete(v.dirs, path)
		return nil
	}
	return fmt.Errorf("no such file")
}

func (v *vfs) mkdir(path string) error {
	path = clean(path)
	if _, ok := v.files[path]; ok {
		return fmt.Errorf("file exists")
	}
	v.dirs[path] = true
	v.mtimes[path] = time.Now().Unix()
	return nil
}

func (v *vfs) setMTime(path string, mtime int64) {
	v.mtimes[clean(path)] = mtime
}

func parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}
