// Package archive writes capture files to disk and packages a session
// folder into a zip.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"
)

// Handle describes a packaged session.
type Handle struct {
	UserID    int       `json:"user_id"`
	Folder    string    `json:"folder"`
	ZipPath   string    `json:"zip_path"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
	RemoteURL string    `json:"remote_url,omitempty"`
}

// ZipName is the download file name of the archive.
func (h Handle) ZipName() string {
	return filepath.Base(h.ZipPath)
}

// Writer owns the data and zip directories.
type Writer struct {
	DataDir string
	ZipDir  string
}

// NewWriter returns a Writer rooted at the given directories.
func NewWriter(dataDir, zipDir string) *Writer {
	return &Writer{DataDir: dataDir, ZipDir: zipDir}
}

func (w *Writer) ensureDirs() error {
	if err := os.MkdirAll(w.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(w.ZipDir, 0755)
}

// SaveImage writes data to <DataDir>/<folder>/<name> and returns the path.
func (w *Writer) SaveImage(folder, name string, data []byte) (string, error) {
	if err := w.ensureDirs(); err != nil {
		return "", err
	}
	dir := filepath.Join(w.DataDir, folder)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Zip packages <DataDir>/<folder> into <ZipDir>/<folder>.zip. Entry names
// start with the folder name. An existing archive is overwritten.
func (w *Writer) Zip(folder string) (string, error) {
	if err := w.ensureDirs(); err != nil {
		return "", err
	}
	src := filepath.Join(w.DataDir, folder)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return "", fmt.Errorf("no data folder for session %q", folder)
	}

	zipPath := filepath.Join(w.ZipDir, folder+".zip")
	tmp := zipPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	zw := zip.NewWriter(out)
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(w.DataDir, path)
		if err != nil {
			return err
		}
		return addFile(zw, filepath.ToSlash(rel), path)
	})
	if walkErr == nil {
		walkErr = zw.Close()
	}
	if err := out.Close(); walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to build archive: %w", walkErr)
	}

	// Readers never see a half-written archive
	if err := os.Rename(tmp, zipPath); err != nil {
		return "", err
	}
	return zipPath, nil
}

func addFile(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}

// ZipInMemory builds an archive from name -> bytes without touching disk.
// Entries are written in name order.
func ZipInMemory(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
		if err != nil {
			return nil, err
		}
		if _, err := dst.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
