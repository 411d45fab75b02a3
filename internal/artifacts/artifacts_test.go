package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestDescribeExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generator.onnx")
	content := []byte("not a real model, but stable bytes")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	infos := Describe([]Artifact{{Name: "onnx", Path: path}}, true)
	if len(infos) != 1 {
		t.Fatalf("expected 1 info, got %d", len(infos))
	}

	info := infos[0]
	if !info.Exists {
		t.Fatal("expected Exists=true")
	}
	if info.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", info.Size, len(content))
	}
	sum := sha256.Sum256(content)
	if want := hex.EncodeToString(sum[:]); info.SHA256 != want {
		t.Errorf("sha256 = %s, want %s", info.SHA256, want)
	}
	if info.Err != "" {
		t.Errorf("unexpected error: %s", info.Err)
	}
}

func TestDescribeSkipsDigestWhenNotRequested(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generator.pt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	infos := Describe([]Artifact{{Name: "torchscript", Path: path}}, false)
	if infos[0].SHA256 != "" {
		t.Errorf("expected empty digest, got %s", infos[0].SHA256)
	}
}

func TestDescribeMissingFile(t *testing.T) {
	infos := Describe([]Artifact{{Name: "checkpoint", Path: filepath.Join(t.TempDir(), "nope.pth")}}, true)
	if len(infos) != 1 {
		t.Fatalf("expected 1 info, got %d", len(infos))
	}
	if infos[0].Exists {
		t.Error("expected Exists=false for missing file")
	}
	if infos[0].SHA256 != "" {
		t.Error("expected no digest for missing file")
	}
	if infos[0].Err != "" {
		t.Errorf("missing file should not report an error, got %s", infos[0].Err)
	}
}

func TestDescribeSkipsEmptyPaths(t *testing.T) {
	infos := Describe([]Artifact{{Name: "onnx", Path: ""}}, false)
	if len(infos) != 0 {
		t.Fatalf("expected empty paths to be skipped, got %d infos", len(infos))
	}
}

func TestDescribeDirectory(t *testing.T) {
	infos := Describe([]Artifact{{Name: "onnx", Path: t.TempDir()}}, false)
	if infos[0].Exists {
		t.Error("directory should not count as an existing artifact")
	}
	if infos[0].Err == "" {
		t.Error("directory should be reported as an error")
	}
}
