//go:build integration

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/portal/internal/testutils"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "cli-chunks")

	root := t.TempDir()
	testutils.WriteTree(t, root, map[string][]byte{
		"share/readme.txt":   []byte("hello"),
		"share/data/one.bin": testutils.GenerateTestData(t, 4096),
	})

	a, url := startServer(t, root, minio.BucketURL)

	data := testutils.GenerateTestData(t, 3*1024*1024+123)
	src := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	t.Run("upload", func(t *testing.T) {
		exitCode := runUpload([]string{
			"-server", url,
			"-file", src,
			"-workers", "4",
			"-chunk-size", "256KiB",
		})
		if exitCode != ExitSuccess {
			t.Fatalf("upload failed with exit code %d", exitCode)
		}

		f, err := os.Open(filepath.Join(a.UploadDir, "big.bin"))
		if err != nil {
			t.Fatalf("open uploaded file: %v", err)
		}
		defer f.Close()
		testutils.CompareReaderToData(t, f, data)
	})

	t.Run("chunks_cleaned_up", func(t *testing.T) {
		bucket, err := minio.OpenBucket(ctx)
		if err != nil {
			t.Fatalf("open bucket: %v", err)
		}
		defer bucket.Close()

		iter := bucket.List(nil)
		if obj, err := iter.Next(ctx); err == nil {
			t.Fatalf("chunk objects left behind, first: %s", obj.Key)
		}
	})

	t.Run("download_file", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "big.bin")
		exitCode := runDownload([]string{"-server", url, "-path", "uploads/big.bin", "-o", out})
		if exitCode != ExitSuccess {
			t.Fatalf("download failed with exit code %d", exitCode)
		}

		downloaded, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("read downloaded file: %v", err)
		}
		if !bytes.Equal(downloaded, data) {
			t.Fatalf("downloaded data mismatch: got %d bytes, want %d bytes", len(downloaded), len(data))
		}
	})

	t.Run("download_archive", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "share.zip")
		exitCode := runDownload([]string{"-server", url, "-dir", "-path", "share", "-o", out})
		if exitCode != ExitSuccess {
			t.Fatalf("download -dir failed with exit code %d", exitCode)
		}

		names := zipNames(t, out)
		if len(names) != 2 || names[0] != "data/one.bin" || names[1] != "readme.txt" {
			t.Fatalf("unexpected archive entries %v", names)
		}
	})
}
