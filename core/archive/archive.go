// Package archive writes tar archives whose bytes depend only on the archived
// file names and contents plus a caller supplied epoch.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/fsx"
)

const (
	CodecGzip = "gzip"
	CodecNone = "none"
)

// Extension returns the file extension for codec, or ArchiverUnavailable for a codec
// this build cannot produce.
func Extension(codec string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(codec)) {
	case CodecGzip:
		return ".tar.gz", nil
	case CodecNone:
		return ".tar", nil
	default:
		return "", coreerrors.ArchiverUnavailable("archive codec %q is not supported", codec)
	}
}

// Entry places the file at Source into the archive under Name.
type Entry struct {
	Name   string
	Source string
}

type Options struct {
	Root    string
	Include []string
	Exclude []string
	// SkipDirs are absolute directories never descended into, such as the output
	// directories of the pipeline itself.
	SkipDirs []string
	Epoch    int64
	Codec    string
}

type Result struct {
	Path    string   `json:"path"`
	Entries []string `json:"entries"`
}

// Select walks root and returns the entries matched by include after exclude has
// been applied, sorted by name. Only regular files and symlinks are selected.
func Select(root string, include, exclude, skipDirs []string) ([]Entry, error) {
	if len(include) == 0 {
		return nil, coreerrors.InvalidConfiguration("archive requires at least one include glob")
	}
	if err := ValidatePatterns(include); err != nil {
		return nil, err
	}
	if err := ValidatePatterns(exclude); err != nil {
		return nil, err
	}
	skip := make(map[string]struct{}, len(skipDirs))
	for _, dir := range skipDirs {
		skip[filepath.Clean(dir)] = struct{}{}
	}

	entries := make([]Entry, 0)
	err := filepath.WalkDir(root, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relative, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}
		name := filepath.ToSlash(relative)
		if entry.IsDir() {
			if _, ok := skip[filepath.Clean(current)]; ok {
				return filepath.SkipDir
			}
			if matchAny(exclude, name) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() && entry.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if matchAny(exclude, name) || !matchTree(include, name) {
			return nil
		}
		entries = append(entries, Entry{Name: name, Source: current})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sortEntries(entries)
	return entries, nil
}

// Create selects files under opts.Root and writes the archive to outputPath.
func Create(opts Options, outputPath string) (Result, error) {
	if _, err := Extension(opts.Codec); err != nil {
		return Result{}, err
	}
	entries, err := Select(opts.Root, opts.Include, opts.Exclude, opts.SkipDirs)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{}, coreerrors.InvalidConfiguration("include globs %s match no files", strings.Join(opts.Include, ", "))
	}
	if err := Write(entries, opts.Epoch, opts.Codec, outputPath); err != nil {
		return Result{}, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return Result{Path: outputPath, Entries: names}, nil
}

// Write archives entries to outputPath atomically. The codec is checked before
// anything is read or written.
func Write(entries []Entry, epoch int64, codec, outputPath string) error {
	sorted, err := prepareEntries(entries, codec)
	if err != nil {
		return err
	}
	modTime := time.Unix(epoch, 0).UTC()
	return fsx.WriteAtomic(outputPath, 0o644, func(w io.Writer) error {
		return writeArchive(w, sorted, modTime, strings.ToLower(strings.TrimSpace(codec)))
	})
}

// Encode writes the same bytes Write would store to w.
func Encode(w io.Writer, entries []Entry, epoch int64, codec string) error {
	sorted, err := prepareEntries(entries, codec)
	if err != nil {
		return err
	}
	return writeArchive(w, sorted, time.Unix(epoch, 0).UTC(), strings.ToLower(strings.TrimSpace(codec)))
}

func prepareEntries(entries []Entry, codec string) ([]Entry, error) {
	if _, err := Extension(codec); err != nil {
		return nil, err
	}
	sorted := append([]Entry(nil), entries...)
	sortEntries(sorted)
	for index, entry := range sorted {
		if err := validateEntryName(entry.Name); err != nil {
			return nil, err
		}
		if index > 0 && sorted[index-1].Name == entry.Name {
			return nil, fmt.Errorf("duplicate archive entry %q", entry.Name)
		}
	}
	return sorted, nil
}

func writeArchive(w io.Writer, entries []Entry, modTime time.Time, codec string) error {
	var gzipWriter *gzip.Writer
	target := w
	if codec == CodecGzip {
		var err error
		gzipWriter, err = gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("create gzip writer: %w", err)
		}
		// The gzip header carries no name and a zero mtime. klauspost writes
		// ModTime.Unix() unconditionally, so the zero time.Time would not encode as 0.
		gzipWriter.Name = ""
		gzipWriter.ModTime = time.Unix(0, 0)
		target = gzipWriter
	}

	tarWriter := tar.NewWriter(target)
	for _, entry := range entries {
		if err := writeEntry(tarWriter, entry, modTime); err != nil {
			return err
		}
	}
	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}
	}
	return nil
}

func writeEntry(tarWriter *tar.Writer, entry Entry, modTime time.Time) error {
	info, err := os.Lstat(entry.Source)
	if err != nil {
		return fmt.Errorf("stat %s: %w", entry.Source, err)
	}
	header := &tar.Header{
		Name:    entry.Name,
		ModTime: modTime,
		Uid:     0,
		Gid:     0,
		Uname:   "",
		Gname:   "",
	}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(entry.Source)
		if err != nil {
			return fmt.Errorf("read symlink %s: %w", entry.Source, err)
		}
		header.Typeflag = tar.TypeSymlink
		header.Linkname = filepath.ToSlash(target)
		header.Mode = 0o777
	case info.Mode().IsRegular():
		header.Typeflag = tar.TypeReg
		header.Size = info.Size()
		header.Mode = normalizedMode(info.Mode())
	default:
		return fmt.Errorf("unsupported archive entry type for %s", entry.Source)
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %s: %w", entry.Name, err)
	}
	if header.Typeflag != tar.TypeReg {
		return nil
	}
	// #nosec G304 -- entry sources come from a walk of the configured root or the pipeline layout.
	file, err := os.Open(entry.Source)
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Source, err)
	}
	defer func() {
		_ = file.Close()
	}()
	written, err := io.Copy(tarWriter, file)
	if err != nil {
		return fmt.Errorf("copy %s into archive: %w", entry.Source, err)
	}
	if written != header.Size {
		return fmt.Errorf("%s changed size while archiving", entry.Source)
	}
	return nil
}

func normalizedMode(mode fs.FileMode) int64 {
	if mode.Perm()&0o111 != 0 {
		return 0o755
	}
	return 0o644
}

func validateEntryName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return fmt.Errorf("invalid archive entry name %q", name)
	}
	if cleaned := path.Clean(name); cleaned != name || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("invalid archive entry name %q", name)
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}
