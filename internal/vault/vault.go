// Package vault reads notes from an Obsidian vault directory.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/ignore"
)

var (
	// ErrNotFound is returned for notes that do not exist or lie outside
	// the vault.
	ErrNotFound = errors.New("note not found")

	// ErrInvalidVault is returned when the root is not a readable directory.
	ErrInvalidVault = errors.New("invalid vault")
)

// NoteInfo describes a note file.
type NoteInfo struct {
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
	Size     int64     `json:"size"`
}

// Options configures a Vault.
type Options struct {
	// IgnorePatterns are added to the defaults and the vault's .ragignore.
	IgnorePatterns []string

	// MaxFileSize skips larger notes. Zero means no limit.
	MaxFileSize int64

	Logger *zap.Logger
}

// Vault is a directory of markdown notes.
type Vault struct {
	root        string
	matcher     *ignore.Matcher
	maxFileSize int64
	logger      *zap.Logger
}

// Open validates root and loads its ignore rules.
func Open(root string, opts Options) (*Vault, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidVault)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVault, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVault, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidVault, abs)
	}

	matcher, err := ignore.ForVault(abs, opts.IgnorePatterns)
	if err != nil {
		return nil, fmt.Errorf("loading ignore rules: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{root: abs, matcher: matcher, maxFileSize: opts.MaxFileSize, logger: logger}, nil
}

// Root returns the absolute vault path.
func (v *Vault) Root() string { return v.root }

// Ignored reports whether a vault-relative path is excluded.
func (v *Vault) Ignored(rel string) bool { return v.matcher.Match(rel) }

// Scan returns the vault-relative, slash-separated paths of every indexable
// note, sorted. Symlinks are skipped so nothing outside the vault is read.
func (v *Vault) Scan(ctx context.Context) ([]string, error) {
	var paths []string
	err := v.walk(ctx, func(rel string, _ fs.FileInfo) {
		paths = append(paths, rel)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ListRecent returns up to limit notes, most recently modified first.
func (v *Vault) ListRecent(ctx context.Context, limit int) ([]NoteInfo, error) {
	var notes []NoteInfo
	err := v.walk(ctx, func(rel string, info fs.FileInfo) {
		notes = append(notes, NoteInfo{Path: rel, Modified: info.ModTime(), Size: info.Size()})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if !notes[i].Modified.Equal(notes[j].Modified) {
			return notes[i].Modified.After(notes[j].Modified)
		}
		return notes[i].Path < notes[j].Path
	})
	if limit > 0 && len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

func (v *Vault) walk(ctx context.Context, visit func(rel string, info fs.FileInfo)) error {
	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == v.root {
				return err
			}
			v.logger.Debug("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == v.root {
			return nil
		}

		rel, err := filepath.Rel(v.root, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if d.Type()&fs.ModeSymlink != 0 {
			v.logger.Debug("skipping symlink", zap.String("path", rel))
			return nil
		}
		if d.IsDir() {
			if v.matcher.Match(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(rel, ".md") || v.matcher.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if v.maxFileSize > 0 && info.Size() > v.maxFileSize {
			v.logger.Debug("skipping large note", zap.String("path", rel), zap.Int64("size", info.Size()))
			return nil
		}
		visit(rel, info)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking vault: %w", err)
	}
	return nil
}

// Resolve maps a vault-relative path to an absolute one. Paths that escape
// the vault, directly or through a symlink, are reported as ErrNotFound.
func (v *Vault) Resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", ErrNotFound
	}
	abs := filepath.Join(v.root, filepath.FromSlash(rel))
	if !within(v.root, abs) {
		return "", ErrNotFound
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rel, err)
	}
	realRoot, err := filepath.EvalSymlinks(v.root)
	if err != nil {
		return "", fmt.Errorf("resolving vault root: %w", err)
	}
	if !within(realRoot, resolved) {
		return "", ErrNotFound
	}
	return abs, nil
}

// Read returns the text of a note. Invalid UTF-8 is an error.
func (v *Vault) Read(rel string) (string, error) {
	abs, err := v.Resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", ErrNotFound
	}
	if info.IsDir() {
		return "", ErrNotFound
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rel, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("reading %s: not valid UTF-8", rel)
	}
	return string(data), nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
