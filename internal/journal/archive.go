package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/errors"
)

// ArchiveExt is the file extension of archived journals.
const ArchiveExt = ".log.zst"

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("journal: creating zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("journal: creating zstd decoder: " + err.Error())
	}
}

// Meta names the run a journal belongs to.
type Meta struct {
	Application string
	Environment string
	Operation   string
	Release     string // empty when the operation creates no release
}

// Archive stores finished journals under a directory and keeps the newest
// KeepRuns per application, environment and operation.
type Archive struct {
	dir  string
	keep int
}

// NewArchive returns an archive rooted at cfg.Dir. A zero KeepRuns disables
// pruning; an empty Dir disables archiving altogether.
func NewArchive(cfg config.LogsConfig) *Archive {
	return &Archive{dir: cfg.Dir, keep: cfg.KeepRuns}
}

// Enabled reports whether Save writes anything.
func (a *Archive) Enabled() bool {
	return a != nil && a.dir != ""
}

// FileName returns the archive file name for a journal.
func FileName(meta Meta, id string) string {
	release := meta.Release
	if release == "" {
		release = "none"
	}
	if len(id) > 8 {
		id = id[:8]
	}
	parts := []string{meta.Application, meta.Environment, meta.Operation, release, id}
	for i, p := range parts {
		parts[i] = sanitizeFilename(p)
	}
	return strings.Join(parts, "-") + ArchiveExt
}

// Save compresses the journal into the archive and prunes old runs.
// Returns the written path, or "" when archiving is disabled.
func (a *Archive) Save(j *Journal, meta Meta) (string, error) {
	if !a.Enabled() {
		return "", nil
	}

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Can't create log directory "+a.dir,
			"Check your permissions or change logs.dir.")
	}

	path := filepath.Join(a.dir, FileName(meta, j.ID()))
	data := zstdEncoder.EncodeAll([]byte(j.Text()), nil)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrFailure,
			"Can't write operation log "+path,
			"Check your permissions for "+a.dir+".")
	}

	if err := a.Prune(); err != nil {
		return path, err
	}
	return path, nil
}

// Read returns the text of an archived journal.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrFailure,
			"Can't read operation log "+path, "")
	}
	text, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrFailure,
			"Operation log "+path+" is corrupt",
			"Delete the file; it can't be recovered.")
	}
	return string(text), nil
}

type archived struct {
	path    string
	modTime time.Time
}

// Prune keeps the newest KeepRuns archives of each run group.
func (a *Archive) Prune() error {
	if !a.Enabled() || a.keep <= 0 {
		return nil
	}

	files, err := a.list()
	if err != nil {
		return err
	}

	groups := make(map[string][]archived)
	for _, f := range files {
		key := groupKey(filepath.Base(f.path))
		groups[key] = append(groups[key], f)
	}

	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			if group[i].modTime.Equal(group[j].modTime) {
				return group[i].path > group[j].path
			}
			return group[i].modTime.After(group[j].modTime)
		})
		if len(group) <= a.keep {
			continue
		}
		for _, f := range group[a.keep:] {
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				return errors.WrapWithCode(err, errors.ErrFailure,
					"Can't delete operation log "+f.path,
					"Check your permissions.")
			}
		}
	}
	return nil
}

// List returns archived journal paths, newest first.
func (a *Archive) List() ([]string, error) {
	if !a.Enabled() {
		return nil, nil
	}
	files, err := a.list()
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

func (a *Archive) list() ([]archived, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrFailure,
			"Can't read log directory "+a.dir,
			"Check your permissions.")
	}

	var files []archived
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ArchiveExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, archived{
			path:    filepath.Join(a.dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

// groupKey drops the release and id fields from an archive file name.
func groupKey(name string) string {
	name = strings.TrimSuffix(name, ArchiveExt)
	for i := 0; i < 2; i++ {
		idx := strings.LastIndex(name, "-")
		if idx < 0 {
			break
		}
		name = name[:idx]
	}
	return name
}

func sanitizeFilename(name string) string {
	if name == "" {
		return "none"
	}
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ', '-':
			result[i] = '_'
		default:
			result[i] = c
		}
	}
	return string(result)
}

// String renders meta for log messages.
func (m Meta) String() string {
	return fmt.Sprintf("%s %s@%s", m.Operation, m.Application, m.Environment)
}
