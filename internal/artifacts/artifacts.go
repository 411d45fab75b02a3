// Package artifacts describes the model files the server loads and serves:
// the ONNX export, its metadata, and the raw checkpoint blobs kept for the
// download endpoints.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// Artifact names one model file by role and location.
type Artifact struct {
	Name string
	Path string
}

// Info is the on-disk state of an artifact. SHA256 is only filled when
// digests were requested and the file exists.
type Info struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"mod_time,omitempty"`
	SHA256  string    `json:"sha256,omitempty"`
	Err     string    `json:"error,omitempty"`
}

// Describe stats each artifact and, when withDigest is set, streams it
// through SHA-256. Missing files are reported, not treated as errors; an
// artifact with an empty path is skipped entirely.
func Describe(arts []Artifact, withDigest bool) []Info {
	infos := make([]Info, 0, len(arts))
	for _, a := range arts {
		if a.Path == "" {
			continue
		}
		infos = append(infos, describe(a, withDigest))
	}
	return infos
}

func describe(a Artifact, withDigest bool) Info {
	info := Info{Name: a.Name, Path: a.Path}

	st, err := os.Stat(a.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			info.Err = err.Error()
		}
		return info
	}
	if st.IsDir() {
		info.Err = fmt.Sprintf("%s is a directory", a.Path)
		return info
	}

	info.Exists = true
	info.Size = st.Size()
	info.ModTime = st.ModTime()

	if withDigest {
		digest, err := fileDigest(a.Path)
		if err != nil {
			info.Err = err.Error()
			return info
		}
		info.SHA256 = digest
	}

	return info
}

// fileDigest returns the lowercase hex SHA-256 of the file contents.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
