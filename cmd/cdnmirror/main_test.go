package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ligustah/cdnmirror/internal/testutils"
)

func testFiles(t *testing.T) []testutils.TestFile {
	return []testutils.TestFile{
		{Dest: "/file.bin", Data: testutils.GenerateTestData(t, 1024)},
		{Dest: "/data/a.bin", Data: testutils.GenerateTestData(t, 64*1024)},
		{Dest: "/data/b.txt", Data: []byte("hello")},
		{Dest: "/other/c.bin", Data: testutils.GenerateTestData(t, 10)},
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runApp(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func assertFile(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("%s: got %d bytes, want %d", path, len(got), len(want))
	}
}

func TestMirrorEverything(t *testing.T) {
	files := testFiles(t)
	cdn := testutils.StartCDN(t, files, testutils.CDNOptions{Version: "1.2.3"})
	out := t.TempDir()

	code, stdout, stderr := runCLI(t, "-i", cdn.IndexURL(), "-o", out, "--no-progress")
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}

	if !strings.Contains(stdout, "Version: 1.2.3\n") || !strings.Contains(stdout, "Resources: 4\n") {
		t.Errorf("unexpected stdout:\n%s", stdout)
	}
	for _, f := range files {
		assertFile(t, filepath.Join(out, filepath.FromSlash(f.Dest[1:])), f.Data)
	}

	// base + "/" + dest keeps the leading slash of dest.
	if !cdn.Requested("/base//file.bin") {
		t.Errorf("expected request for /base//file.bin, got %v", cdn.Requests())
	}
	if !strings.Contains(stderr, "run_id") {
		t.Errorf("expected run_id in logs:\n%s", stderr)
	}
}

func TestMirrorTrailingSlashCDN(t *testing.T) {
	files := []testutils.TestFile{{Dest: "/file.bin", Data: testutils.GenerateTestData(t, 1024)}}
	cdn := testutils.StartCDN(t, files, testutils.CDNOptions{CDNSuffix: "/"})
	out := t.TempDir()

	code, _, stderr := runCLI(t, "-i", cdn.IndexURL(), "-o", out, "--no-progress")
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}

	for _, p := range []string{"//" + testutils.ManifestPath, "//base//file.bin"} {
		if !cdn.Requested(p) {
			t.Errorf("expected request for %q, got %v", p, cdn.Requests())
		}
	}

	info, err := os.Stat(filepath.Join(out, "file.bin"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 1024 {
		t.Errorf("expected 1024 bytes, got %d", info.Size())
	}
}

func TestMirrorWithFileList(t *testing.T) {
	files := testFiles(t)
	cdn := testutils.StartCDN(t, files, testutils.CDNOptions{})
	out := t.TempDir()

	list := filepath.Join(t.TempDir(), "filelist.txt")
	os.WriteFile(list, []byte("/data/*.bin\n\n/file.*\n"), 0o644)

	code, _, stderr := runCLI(t, "-i", cdn.IndexURL(), "-o", out, "-f", list, "--no-progress")
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}

	assertFile(t, filepath.Join(out, "data", "a.bin"), files[1].Data)
	assertFile(t, filepath.Join(out, "file.bin"), files[0].Data)
	for _, skipped := range []string{"data/b.txt", "other/c.bin"} {
		if _, err := os.Stat(filepath.Join(out, skipped)); !os.IsNotExist(err) {
			t.Errorf("%s should not be downloaded", skipped)
		}
	}
	if cdn.Requested("/base//data/b.txt") {
		t.Error("unselected resource was requested")
	}
}

func TestMirrorFailures(t *testing.T) {
	files := testFiles(t)
	cdn := testutils.StartCDN(t, files, testutils.CDNOptions{Missing: []string{"/gone.bin"}})

	t.Run("strict", func(t *testing.T) {
		out := t.TempDir()
		code, _, stderr := runCLI(t, "-i", cdn.IndexURL(), "-o", out, "--no-progress")
		if code != ExitDownloadFailed {
			t.Fatalf("expected exit %d, got %d", ExitDownloadFailed, code)
		}
		if !strings.Contains(stderr, "1 of 5 downloads failed") || !strings.Contains(stderr, "gone.bin") {
			t.Errorf("expected failure summary, got:\n%s", stderr)
		}
		// Siblings are unaffected.
		for _, f := range files {
			assertFile(t, filepath.Join(out, filepath.FromSlash(f.Dest[1:])), f.Data)
		}
	})

	t.Run("allow failures", func(t *testing.T) {
		code, _, _ := runCLI(t, "-i", cdn.IndexURL(), "-o", t.TempDir(), "--no-progress", "--allow-failures")
		if code != ExitSuccess {
			t.Errorf("expected exit 0 with --allow-failures, got %d", code)
		}
	})
}

func TestMirrorProgressOutput(t *testing.T) {
	cdn := testutils.StartCDN(t, testFiles(t), testutils.CDNOptions{})

	code, _, stderr := runCLI(t, "-i", cdn.IndexURL(), "-o", t.TempDir(), "-n", "1", "--log-level", "error")
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stderr, "[cdnmirror] Files: 4 |") || !strings.Contains(stderr, "Workers: 1") {
		t.Errorf("missing progress header:\n%s", stderr)
	}
	if !strings.Contains(stderr, "Files: 4 completed | 0 failed") {
		t.Errorf("missing final status:\n%s", stderr)
	}
}

func TestMirrorDryRun(t *testing.T) {
	cdn := testutils.StartCDN(t, testFiles(t), testutils.CDNOptions{})
	out := filepath.Join(t.TempDir(), "never-created")

	code, stdout, stderr := runCLI(t, "-i", cdn.IndexURL(), "-o", out, "--dry-run")
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, cdn.URL+"/base//data/a.bin -> ") {
		t.Errorf("expected planned URL in output:\n%s", stdout)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("dry run must not create the output directory")
	}
	if cdn.Requested("/base//data/a.bin") {
		t.Error("dry run must not download")
	}
}

func TestMirrorToBucket(t *testing.T) {
	cdn := testutils.StartCDN(t, testFiles(t), testutils.CDNOptions{})

	code, _, stderr := runCLI(t, "-i", cdn.IndexURL(), "-o", "mem://", "--no-progress")
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
}

func TestConfigSources(t *testing.T) {
	files := testFiles(t)
	cdn := testutils.StartCDN(t, files, testutils.CDNOptions{})
	out := t.TempDir()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(cfgPath, []byte("index_url: "+cdn.IndexURL()+"\noutput: /does/not/matter\nprogress: false\n"), 0o644)
	t.Setenv("CDNMIRROR_OUTPUT", out)

	code, _, stderr := runCLI(t, "--config", cfgPath, "--log-format", "json")
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	assertFile(t, filepath.Join(out, "file.bin"), files[0].Data)
	if !strings.Contains(stderr, `"run_id"`) {
		t.Errorf("expected JSON logs:\n%s", stderr)
	}
}

func TestExitCodes(t *testing.T) {
	cdn := testutils.StartCDN(t, testFiles(t), testutils.CDNOptions{})

	badList := filepath.Join(t.TempDir(), "bad.txt")
	os.WriteFile(badList, []byte("/broken/[a-\n"), 0o644)

	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0o644)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing index url", []string{"-o", t.TempDir()}, ExitInvalidArgs},
		{"missing output", []string{"-i", cdn.IndexURL()}, ExitInvalidArgs},
		{"unknown flag", []string{"--bogus"}, ExitInvalidArgs},
		{"positional args", []string{"-i", cdn.IndexURL(), "-o", t.TempDir(), "extra"}, ExitInvalidArgs},
		{"bad buffer size", []string{"-i", cdn.IndexURL(), "-o", t.TempDir(), "--buffer-size", "huge"}, ExitInvalidArgs},
		{"bad pattern", []string{"-i", cdn.IndexURL(), "-o", t.TempDir(), "-f", badList}, ExitInvalidArgs},
		{"missing filelist", []string{"-i", cdn.IndexURL(), "-o", t.TempDir(), "-f", "/no/such/list"}, ExitInvalidArgs},
		{"bad log level", []string{"-i", cdn.IndexURL(), "-o", t.TempDir(), "--log-level", "loud"}, ExitInvalidArgs},
		{"index not found", []string{"-i", cdn.URL + "/missing.json", "-o", t.TempDir()}, ExitResolveFailed},
		{"output is a file", []string{"-i", cdn.IndexURL(), "-o", blocker, "--no-progress"}, ExitStorageError},
		{"help", []string{"--help"}, ExitSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			if code != tt.want {
				t.Errorf("exit code %d, want %d; stderr:\n%s", code, tt.want, stderr)
			}
		})
	}
}
