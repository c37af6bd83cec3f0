// Package files implements the filesystem surface (spec §6): a single root
// data_dir, path-confined reads/writes/listing, auto-generated filenames,
// and root-level retention by file count.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrPathEscapesRoot is returned when a caller-supplied relative path would
// resolve outside data_dir (via "..", an absolute path, or a drive letter).
var ErrPathEscapesRoot = errors.New("path escapes data directory")

// Info describes one file under data_dir, for the list-files response.
type Info struct {
	Name      string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt int64  `json:"created_at"`
	Kind      string `json:"file_type"`
}

// Manager confines all file operations to a single root directory.
type Manager struct {
	root          string
	defaultPrefix string
	defaultExt    string
}

// New returns a Manager rooted at dir, creating it if necessary.
func New(dir, defaultPrefix, defaultExt string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %q: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Manager{root: abs, defaultPrefix: defaultPrefix, defaultExt: defaultExt}, nil
}

// sanitizeRelPath rejects absolute paths, drive letters, and ".." segments,
// returning a cleaned relative path (spec §6 Filesystem).
func sanitizeRelPath(rel string) (string, error) {
	if rel == "" {
		return "", nil
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, `\`) {
		return "", ErrPathEscapesRoot
	}
	clean := filepath.ToSlash(filepath.Clean(rel))
	for _, part := range strings.Split(clean, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", ErrPathEscapesRoot
		default:
			if strings.ContainsRune(part, ':') {
				return "", ErrPathEscapesRoot
			}
		}
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// resolve joins rel onto root, verifying the result never escapes root.
func (m *Manager) resolve(rel string) (string, error) {
	safe, err := sanitizeRelPath(rel)
	if err != nil {
		return "", err
	}
	full := filepath.Join(m.root, safe)
	if full != m.root && !strings.HasPrefix(full, m.root+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	return full, nil
}

// AutoName renders {prefix}_{YYYYMMDD_HHMMSS}{ext} using the manager's
// configured defaults, evaluated at t.
func (m *Manager) AutoName(t time.Time) string {
	return fmt.Sprintf("%s_%s%s", m.defaultPrefix, t.Format("20060102_150405"), m.defaultExt)
}

// List returns the non-recursive file listing of relDir (root if empty),
// sorted newest-first by created_at.
func (m *Manager) List(relDir string) ([]Info, error) {
	dir, err := m.resolve(relDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(m.root, filepath.Join(dir, e.Name()))
		if err != nil {
			rel = e.Name()
		}
		out = append(out, Info{
			Name:      filepath.ToSlash(rel),
			SizeBytes: fi.Size(),
			CreatedAt: fi.ModTime().UnixMilli(),
			Kind:      kindOf(e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// Read returns the bytes of relPath.
func (m *Manager) Read(relPath string) ([]byte, error) {
	full, err := m.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Save writes data under relDir (root if empty) using filename, or an
// auto-generated name if filename is empty. Returns the path relative to
// data_dir.
func (m *Manager) Save(relDir, filename string, data []byte, now time.Time) (string, error) {
	dir, err := m.resolve(relDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if filename == "" {
		filename = m.AutoName(now)
	}
	if strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("%w: filename must not contain path separators", ErrPathEscapesRoot)
	}
	full := filepath.Join(dir, filename)
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", err
	}
	rel, err := filepath.Rel(m.root, full)
	if err != nil {
		rel = filename
	}
	return filepath.ToSlash(rel), nil
}

// CleanupOldFiles deletes the oldest root-level files until the count is at
// most maxFiles (spec §6: "delete oldest files until count ≤ max_files").
// Non-recursive, matching the original implementation's scope.
func (m *Manager) CleanupOldFiles(maxFiles int) error {
	files, err := m.List("")
	if err != nil {
		return err
	}
	if len(files) <= maxFiles {
		return nil
	}
	for _, fi := range files[maxFiles:] {
		_ = os.Remove(filepath.Join(m.root, filepath.FromSlash(fi.Name)))
	}
	return nil
}

func kindOf(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".txt"):
		return "raw_frames"
	case strings.HasSuffix(lower, ".bin"), strings.HasSuffix(lower, ".dat"):
		return "binary"
	case strings.HasSuffix(lower, ".json"):
		return "json"
	default:
		return "unknown"
	}
}
