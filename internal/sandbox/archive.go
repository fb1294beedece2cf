package sandbox

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// sniffLen is how many leading bytes are fed to the content-type sniffer.
const sniffLen = 261

// ArtifactInfo describes one file captured from the workspace after a run.
type ArtifactInfo struct {
	Path string
	Size int64
	Kind string // sniffed content type, e.g. "application/pdf"; empty when unknown
}

// zipDirectory archives the contents of dir (relative paths, deterministic
// walk order) and sniffs each file's content type for the manifest.
func zipDirectory(dir string) ([]byte, []ArtifactInfo, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	var manifest []ArtifactInfo

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		head := make([]byte, sniffLen)
		n, _ := io.ReadFull(f, head)
		kind := ""
		if t, err := filetype.Match(head[:n]); err == nil && t.MIME.Value != "" {
			kind = t.MIME.Value
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}

		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		size, err := io.Copy(w, f)
		if err != nil {
			return err
		}
		manifest = append(manifest, ArtifactInfo{Path: rel, Size: size, Kind: kind})
		return nil
	})
	if err != nil {
		zw.Close()
		return nil, nil, fmt.Errorf("zip workspace: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, nil, fmt.Errorf("zip workspace: %w", err)
	}
	return buf.Bytes(), manifest, nil
}

// manifestNote renders a human-readable summary used when the archive itself
// is too large to return inline.
func manifestNote(manifest []ArtifactInfo, zipSize, limit int64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "artifacts omitted: archive is %d bytes (limit %d)", zipSize, limit)
	for _, a := range manifest {
		sb.WriteString("\n  ")
		sb.WriteString(a.Path)
		fmt.Fprintf(&sb, " (%d bytes", a.Size)
		if a.Kind != "" {
			sb.WriteString(", ")
			sb.WriteString(a.Kind)
		}
		sb.WriteString(")")
	}
	return sb.String()
}
