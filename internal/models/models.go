// Package models resolves model names to local ggml files, downloading them
// from HuggingFace on first use. Resolution is a pure mapping from
// (model name, cache dir) to a path; retrieval happens only when the file
// is absent.
package models

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const repoURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// ErrNotFound means the model file is not present in the cache.
var ErrNotFound = errors.New("model file not found")

// FileName maps a bare model name (e.g. "base.en") to its ggml file name.
// Names already carrying the ggml- prefix or .bin suffix pass through.
func FileName(model string) string {
	name := model
	if !strings.HasSuffix(name, ".bin") {
		name += ".bin"
	}
	if !strings.HasPrefix(name, "ggml-") {
		name = "ggml-" + name
	}
	return name
}

// Resolve maps a model name to its local path. A name containing a path
// separator is taken as an explicit file path. The returned path is valid
// even when the error is ErrNotFound, so callers can download into it.
func Resolve(model, modelsDir string) (string, error) {
	var path string
	if strings.ContainsRune(model, os.PathSeparator) {
		path = model
	} else {
		path = filepath.Join(modelsDir, FileName(model))
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return path, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return path, nil
}

// Ensure resolves the model, downloading it into the cache when absent.
// Explicit file paths are never downloaded.
func Ensure(model, modelsDir string) (string, error) {
	path, err := Resolve(model, modelsDir)
	if err == nil {
		return path, nil
	}
	if strings.ContainsRune(model, os.PathSeparator) {
		return "", err
	}
	if err := Download(model, modelsDir); err != nil {
		return "", err
	}
	return Resolve(model, modelsDir)
}

// Download fetches a ggml model into modelsDir, writing to a temp file and
// renaming so a partial download never looks like a model.
func Download(model, modelsDir string) error {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return fmt.Errorf("models: creating models dir: %w", err)
	}

	name := FileName(model)
	destPath := filepath.Join(modelsDir, name)

	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		fmt.Printf("  Model already exists: %s (%.0f MB)\n", destPath, float64(info.Size())/(1024*1024))
		return nil
	}

	url := repoURL + "/" + name
	fmt.Printf("  Downloading %s\n", url)
	fmt.Printf("  Destination: %s\n", destPath)

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("models: downloading %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models: download %s failed: HTTP %d", name, resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("models: creating temp file: %w", err)
	}

	pr := &progressWriter{
		writer: f,
		total:  resp.ContentLength,
		label:  name,
	}

	written, err := io.Copy(pr, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: writing model file: %w", err)
	}

	fmt.Printf("\n  Downloaded %.1f MB\n", float64(written)/(1024*1024))

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: moving model file: %w", err)
	}

	return nil
}

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Printf("\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/(1024*1024),
			float64(pw.total)/(1024*1024),
			pct)
	} else {
		fmt.Printf("\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/(1024*1024))
	}
	return n, err
}
