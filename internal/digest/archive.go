package digest

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ManifestEntry records one file's ZIP-relative path and modification
// time (as epoch milliseconds) in traversal order. The manifest is
// authoritative for timestamps on extraction, since a ZIP entry's own
// mtime field has coarser precision.
type ManifestEntry struct {
	Path      string
	ModMillis int64
}

// ArchiveFolder recursively DEFLATE-compresses dir into a temporary .zip
// file and returns its path alongside the traversal manifest. Entries are
// named with POSIX-style forward slashes regardless of host OS.
func ArchiveFolder(dir string) (archivePath string, manifest []ManifestEntry, err error) {
	tmp, err := os.CreateTemp("", "cliptransfer-archive-*.zip")
	if err != nil {
		return "", nil, fmt.Errorf("digest: create archive temp file: %w", err)
	}
	archivePath = tmp.Name()

	zw := zip.NewWriter(tmp)

	var paths []string
	err = filepath.Walk(dir, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		zw.Close()
		tmp.Close()
		os.Remove(archivePath)
		return "", nil, fmt.Errorf("digest: walk folder: %w", err)
	}
	sort.Strings(paths)

	for _, p := range paths {
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(archivePath)
			return "", nil, err
		}
		zipRel := filepath.ToSlash(rel)

		info, err := os.Stat(p)
		if err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(archivePath)
			return "", nil, err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(archivePath)
			return "", nil, err
		}
		header.Name = zipRel
		header.Method = zip.Deflate
		header.Modified = info.ModTime()

		w, err := zw.CreateHeader(header)
		if err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(archivePath)
			return "", nil, err
		}

		if err := copyFileInto(w, p); err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(archivePath)
			return "", nil, err
		}

		manifest = append(manifest, ManifestEntry{Path: zipRel, ModMillis: info.ModTime().UnixMilli()})
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(archivePath)
		return "", nil, fmt.Errorf("digest: close archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(archivePath)
		return "", nil, fmt.Errorf("digest: close archive file: %w", err)
	}

	return archivePath, manifest, nil
}

func copyFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, streamBufferSize)
	_, err = io.CopyBuffer(w, f, buf)
	return err
}

// ExtractArchive streams every entry of the zip at archivePath into
// destDir, creating parent directories as needed. When manifest is
// non-nil and an entry's relative path matches a manifest record, the
// manifest's mtime is restored instead of the archive entry's own
// (coarser) timestamp. A failure to restore an mtime is tolerated
// silently — it never fails extraction.
func ExtractArchive(archivePath, destDir string, manifest []ManifestEntry) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("digest: open archive: %w", err)
	}
	defer r.Close()

	manifestByPath := make(map[string]int64, len(manifest))
	for _, m := range manifest {
		manifestByPath[m.Path] = m.ModMillis
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("digest: create destination dir: %w", err)
	}

	for _, entry := range r.File {
		target := filepath.Join(destDir, filepath.FromSlash(entry.Name))
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("digest: create dir %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("digest: create parent dir for %s: %w", target, err)
		}

		if err := extractEntry(entry, target); err != nil {
			return fmt.Errorf("digest: extract %s: %w", entry.Name, err)
		}

		modMillis, fromManifest := manifestByPath[entry.Name]
		var modTime time.Time
		if fromManifest {
			modTime = time.UnixMilli(modMillis)
		} else {
			modTime = entry.Modified
		}
		_ = os.Chtimes(target, modTime, modTime)
	}

	return nil
}

func extractEntry(entry *zip.File, target string) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, streamBufferSize)
	_, err = io.CopyBuffer(out, rc, buf)
	return err
}
