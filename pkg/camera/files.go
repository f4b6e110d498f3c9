package camera

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Device paths live under a drive-letter-like root.
const storageRoot = "A/"

const (
	maxTreeDepth  = 100
	statBatchSize = 20
)

// ToCameraPath prepends the storage root to paths that lack it.
// Idempotent, the existing prefix is matched case-insensitively.
func ToCameraPath(p string) string {
	if len(p) >= 2 && (p[0] == 'A' || p[0] == 'a') && p[1] == '/' {
		return p
	}
	return storageRoot + p
}

// FileEntry is one remote file or directory, with extended stat when a
// detailed listing was requested.
type FileEntry struct {
	Path  string    `json:"path"`
	IsDir bool      `json:"is_dir"`
	Size  int64     `json:"size,omitempty"`
	MTime time.Time `json:"mtime,omitempty"`
}

// Stat returns the entry for one remote path, or nil when it does not
// exist.
func (d *Device) Stat(remote string) (*FileEntry, error) {
	remote = ToCameraPath(remote)
	vals, err := d.Execute(fmt.Sprintf("return os.stat(%s)", quote(remote)), nil)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 || !vals[0].Truthy() {
		return nil, nil
	}
	st := vals[0]
	return &FileEntry{
		Path:  remote,
		IsDir: st.Get("is_dir").Bool(),
		Size:  st.Get("size").Int(),
		MTime: time.Unix(st.Get("mtime").Int(), 0),
	}, nil
}

const srcListDir = `
local path, detailed = %s, %s
local t = {}
for i, name in ipairs(os.listdir(path)) do
	if detailed then
		local st = os.stat(path .. '/' .. name)
		t[i] = { name = name, is_dir = st.is_dir, size = st.size, mtime = st.mtime }
	else
		t[i] = name
	end
end
return t
`

// ListFiles returns the entries under one remote directory. Without
// detailed only the Path field is filled.
func (d *Device) ListFiles(remote string, detailed bool) ([]FileEntry, error) {
	remote = ToCameraPath(remote)
	vals, err := d.Execute(fmt.Sprintf(srcListDir, quote(remote), luaBool(detailed)), nil)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	var entries []FileEntry
	for _, item := range vals[0].Array() {
		if detailed {
			entries = append(entries, FileEntry{
				Path:  path.Join(remote, item.Get("name").String()),
				IsDir: item.Get("is_dir").Bool(),
				Size:  item.Get("size").Int(),
				MTime: time.Unix(item.Get("mtime").Int(), 0),
			})
		} else {
			entries = append(entries, FileEntry{Path: path.Join(remote, item.String())})
		}
	}
	return entries, nil
}

const srcMkdirAll = `
local path = %s
local prefix = ''
for part in string.gmatch(path, '[^/]+') do
	if prefix == '' then
		prefix = part
	else
		prefix = prefix .. '/' .. part
		local st = os.stat(prefix)
		if st == nil then
			local ok, err = os.mkdir(prefix)
			if not ok then
				return false, err
			end
		elseif not st.is_dir then
			return false, prefix .. ' is not a directory'
		end
	end
end
return true, ""
`

// MkdirAll creates a remote directory, with intermediate directories
// as needed.
func (d *Device) MkdirAll(remote string) error {
	remote = ToCameraPath(remote)
	vals, err := d.Execute(fmt.Sprintf(srcMkdirAll, quote(remote)), nil)
	if err != nil {
		return err
	}
	if len(vals) > 0 && !vals[0].Truthy() {
		msg := ""
		if len(vals) > 1 {
			msg = ": " + vals[1].String()
		}
		return fmt.Errorf("camera: mkdir %s%s", remote, msg)
	}
	return nil
}

const srcDelete = `
local paths = %s
local function rm(path, depth)
	local st = os.stat(path)
	if st == nil then return end
	if st.is_dir then
		for i, name in ipairs(os.listdir(path)) do
			rm(path .. '/' .. name, depth + 1)
		end
		if depth > 0 then os.remove(path) end
	else
		os.remove(path)
	end
end
for i, p in ipairs(paths) do
	rm(p, 0)
end
return true
`

// DeleteFiles removes remote files and directory contents. Top level
// directories themselves are kept, only their contents are recursed
// into, matching the batch-delete semantics of the camera tooling.
func (d *Device) DeleteFiles(remotes ...string) error {
	items := make([]string, len(remotes))
	for i, r := range remotes {
		items[i] = ToCameraPath(r)
	}
	_, err := d.Execute(fmt.Sprintf(srcDelete, luaStrings(items)), nil)
	return err
}

// UploadFile copies one local file to the camera. A remote directory
// target gets the local basename appended. skipChecks turns the remote
// stat off, required while a script holds the device.
func (d *Device) UploadFile(local, remote string, skipChecks bool) error {
	local, err := filepath.Abs(local)
	if err != nil {
		return err
	}
	fi, err := os.Stat(local)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: local path %s is a directory, not a file", ErrValidation, local)
	}

	remote = ToCameraPath(remote)
	if !skipChecks {
		st, err := d.Stat(strings.TrimSuffix(remote, "/"))
		if err != nil {
			return err
		}
		switch {
		case st != nil && st.IsDir:
			remote = path.Join(strings.TrimSuffix(remote, "/"), filepath.Base(local))
		case strings.HasSuffix(remote, "/"):
			return fmt.Errorf("%w: remote path %s is not a directory", ErrValidation, remote)
		}
	}

	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	if d.conn == nil {
		return ErrNotConnected
	}
	d.Log.Debug().Str("local", local).Str("remote", remote).Msg("upload")
	return d.wrapConnErr(d.conn.Upload(remote, f))
}

// BatchUpload copies local files and directory trees under remoteRoot,
// preserving structure and modification times. Recursion is capped at
// 100 levels.
func (d *Device) BatchUpload(locals []string, remoteRoot string) error {
	remoteRoot = ToCameraPath(remoteRoot)

	for _, local := range locals {
		local, err := filepath.Abs(local)
		if err != nil {
			return err
		}
		base := filepath.Dir(local)

		err = filepath.WalkDir(local, func(p string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			if strings.Count(rel, string(filepath.Separator)) >= maxTreeDepth {
				return fs.SkipDir
			}
			remote := path.Join(remoteRoot, filepath.ToSlash(rel))

			if entry.IsDir() {
				return d.MkdirAll(remote)
			}

			if err = d.UploadFile(p, remote, true); err != nil {
				return err
			}
			if fi, err := entry.Info(); err == nil {
				src := fmt.Sprintf("os.utime(%s, %d) return true", quote(remote), fi.ModTime().Unix())
				if _, err = d.Execute(src, nil); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DownloadFile fetches one remote file. Without a local path the
// contents go through a temp file and come back as bytes.
func (d *Device) DownloadFile(remote, local string) ([]byte, error) {
	remote = ToCameraPath(remote)
	if d.conn == nil {
		return nil, ErrNotConnected
	}

	if local != "" {
		f, err := os.Create(local)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return nil, d.wrapConnErr(d.conn.Download(remote, f))
	}

	tmp, err := os.CreateTemp("", "gochdk")
	if err != nil {
		return nil, err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if err = d.wrapConnErr(d.conn.Download(remote, tmp)); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err = tmp.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}

// BatchDownload fetches remote files and directory trees into
// localRoot, preserving structure. Stats are gathered in batches of 20
// and recursion is capped at 100 levels.
func (d *Device) BatchDownload(remotes []string, localRoot string, overwrite bool) error {
	var files []FileEntry
	for _, r := range remotes {
		found, err := d.walkRemote(ToCameraPath(r), 0)
		if err != nil {
			return err
		}
		files = append(files, found...)
	}

	for _, f := range files {
		local := filepath.Join(localRoot, filepath.FromSlash(strings.TrimPrefix(f.Path, storageRoot)))
		if !overwrite {
			if _, err := os.Stat(local); err == nil {
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return err
		}
		if _, err := d.DownloadFile(f.Path, local); err != nil {
			return err
		}
	}
	return nil
}

const srcStatBatch = `
local paths = %s
local t = {}
for i, p in ipairs(paths) do
	local st = os.stat(p)
	if st then
		t[i] = { is_dir = st.is_dir, size = st.size, mtime = st.mtime }
	else
		t[i] = false
	end
end
return t
`

func (d *Device) walkRemote(remote string, depth int) ([]FileEntry, error) {
	if depth >= maxTreeDepth {
		return nil, nil
	}

	st, err := d.Stat(remote)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("camera: no such file: %s", remote)
	}
	if !st.IsDir {
		return []FileEntry{*st}, nil
	}

	names, err := d.ListFiles(remote, false)
	if err != nil {
		return nil, err
	}

	var files []FileEntry
	for i := 0; i < len(names); i += statBatchSize {
		batch := names[i:min(i+statBatchSize, len(names))]
		paths := make([]string, len(batch))
		for j, e := range batch {
			paths[j] = e.Path
		}

		vals, err := d.Execute(fmt.Sprintf(srcStatBatch, luaStrings(paths)), nil)
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 || vals[0].Len() != len(batch) {
			return nil, fmt.Errorf("camera: stat batch size mismatch")
		}

		for j, stv := range vals[0].Array() {
			if !stv.Truthy() {
				continue
			}
			if stv.Get("is_dir").Bool() {
				sub, err := d.walkRemote(paths[j], depth+1)
				if err != nil {
					return nil, err
				}
				files = append(files, sub...)
			} else {
				files = append(files, FileEntry{
					Path:  paths[j],
					Size:  stv.Get("size").Int(),
					MTime: time.Unix(stv.Get("mtime").Int(), 0),
				})
			}
		}
	}
	return files, nil
}

func luaBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func luaStrings(items []string) string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(quote(s))
	}
	buf.WriteByte('}')
	return buf.String()
}
