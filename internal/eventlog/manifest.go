package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/saveenergy/rtpscope/pkg/errors"
	"github.com/saveenergy/rtpscope/pkg/types"
)

const (
	ManifestName = "index.json"
	LogExt       = ".jsonl"
	maxIDLength  = 128
)

// Source lists and opens logs by identifier.
type Source interface {
	Name() string
	List(ctx context.Context) ([]types.LogInfo, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// ParseManifest reads an index manifest: a JSON array of log file names.
func ParseManifest(r io.Reader) ([]string, error) {
	var names []string
	dec := json.NewDecoder(r)
	if err := dec.Decode(&names); err != nil {
		return nil, errors.ErrInvalidManifest("manifest must be a JSON array of file names", err)
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		id := IDFromName(name)
		if err := ValidateID(id); err != nil {
			return nil, errors.ErrInvalidManifest(fmt.Sprintf("invalid entry %q", name), err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, name)
	}
	return out, nil
}

// IDFromName strips the .jsonl extension from a manifest entry.
func IDFromName(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), LogExt)
}

// ValidateID rejects identifiers that could escape the log directory.
func ValidateID(id string) error {
	if id == "" || len(id) > maxIDLength {
		return errors.ErrInvalidLogID(id)
	}
	if id == "." || id == ".." || strings.Contains(id, "..") ||
		strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return errors.ErrInvalidLogID(id)
	}
	return nil
}

// DirSource serves logs from a directory. When the directory holds an
// index.json it defines the logs and their order; otherwise every *.jsonl
// file is listed in name order.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (d *DirSource) Name() string {
	return "dir"
}

func (d *DirSource) Dir() string {
	return d.dir
}

func (d *DirSource) List(ctx context.Context) ([]types.LogInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := d.names()
	if err != nil {
		return nil, err
	}
	infos := make([]types.LogInfo, 0, len(names))
	for _, name := range names {
		info := types.LogInfo{
			ID:     IDFromName(name),
			Name:   name,
			Source: d.Name(),
		}
		if st, err := os.Stat(filepath.Join(d.dir, name)); err == nil {
			info.SizeBytes = st.Size()
			info.CreatedAt = st.ModTime().UTC()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (d *DirSource) names() ([]string, error) {
	f, err := os.Open(filepath.Join(d.dir, ManifestName))
	if err == nil {
		defer f.Close()
		return ParseManifest(f)
	}
	if !os.IsNotExist(err) {
		return nil, errors.ErrReadFailed(ManifestName, err)
	}

	matches, err := filepath.Glob(filepath.Join(d.dir, "*"+LogExt))
	if err != nil {
		return nil, errors.ErrReadFailed("", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}

func (d *DirSource) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrLogNotFound(id)
		}
		return nil, errors.ErrReadFailed(id, err)
	}
	return f, nil
}

// Path returns the file path for id without checking that it exists.
func (d *DirSource) Path(id string) string {
	return filepath.Join(d.dir, id+LogExt)
}

// Load opens id from src and decodes it.
func Load(ctx context.Context, src Source, id string) ([]types.Event, error) {
	rc, err := src.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	events, err := Decode(ctx, rc)
	if err != nil {
		return nil, withLogID(err, id)
	}
	return events, nil
}

// FileSource serves exactly one log file, whatever its extension. Its
// identifier is the file's base name without extension.
type FileSource struct {
	path string
	id   string
}

func NewFileSource(path string) (*FileSource, error) {
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return &FileSource{path: path, id: id}, nil
}

func (f *FileSource) Name() string {
	return "file"
}

func (f *FileSource) ID() string {
	return f.id
}

func (f *FileSource) List(ctx context.Context) ([]types.LogInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info := types.LogInfo{ID: f.id, Name: filepath.Base(f.path), Source: f.Name()}
	st, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrLogNotFound(f.id)
		}
		return nil, errors.ErrReadFailed(f.id, err)
	}
	info.SizeBytes = st.Size()
	info.CreatedAt = st.ModTime().UTC()
	return []types.LogInfo{info}, nil
}

func (f *FileSource) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if id != f.id {
		return nil, errors.ErrLogNotFound(id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrLogNotFound(id)
		}
		return nil, errors.ErrReadFailed(id, err)
	}
	return r, nil
}
