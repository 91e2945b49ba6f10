package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ligustah/espadl/internal/testutils"
)

const (
	testEmail    = "user@example.com"
	testUsername = "user"
	testPassword = "secret"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func execute(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runWith(context.Background(), args, nil, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func startService(t *testing.T) *testutils.Service {
	t.Helper()
	return testutils.StartService(t, testEmail, testUsername, testPassword,
		testutils.Order{
			ID: "o1",
			Products: []testutils.Product{
				{Name: "scene1.tar.gz", Data: testutils.GenerateTestData(1000)},
				{Name: "scene2.tar.gz", Data: testutils.GenerateTestData(2500)},
				{Name: "scene3.tar.gz", Data: testutils.GenerateTestData(10), Status: "processing"},
			},
		},
		testutils.Order{
			ID: "o2",
			Products: []testutils.Product{
				{Name: "scene4.tar.gz", Data: testutils.GenerateTestData(300), NoChecksum: true},
			},
		},
	)
}

func downloadArgs(svc *testutils.Service, dir string, extra ...string) []string {
	args := []string{
		"download",
		"-e", testEmail,
		"-u", testUsername,
		"-p", testPassword,
		"-i", svc.URL,
		"-d", dir,
		"--pacing-min", "1ms",
		"--pacing-max", "1ms",
		"--rate-limit", "1000",
	}
	return append(args, extra...)
}

func assertFile(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("%s: got %d bytes, want %d", filepath.Base(path), len(got), len(want))
	}
}

func assertAbsent(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s to be absent (stat error: %v)", filepath.Base(path), err)
	}
}

func TestCommandStructure(t *testing.T) {
	root := newApp(nil, &bytes.Buffer{}, &bytes.Buffer{}).rootCommand()

	for _, name := range []string{"download", "list", "verify", "mirror"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := root.Find([]string{name})
			if err != nil {
				t.Fatalf("command %q not found: %v", name, err)
			}
			if cmd.Short == "" {
				t.Errorf("command %q has no short description", name)
			}
		})
	}
}

func TestDownloadAllOrders(t *testing.T) {
	svc := startService(t)
	dir := t.TempDir()

	res := execute(t, downloadArgs(svc, dir, "-o", "ALL", "--checksum")...)
	if res.code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}

	assertFile(t, filepath.Join(dir, "o1", "scene1.tar.gz"), testutils.GenerateTestData(1000))
	assertFile(t, filepath.Join(dir, "o1", "scene2.tar.gz"), testutils.GenerateTestData(2500))
	assertFile(t, filepath.Join(dir, "o2", "scene4.tar.gz"), testutils.GenerateTestData(300))
	assertAbsent(t, filepath.Join(dir, "o1", "scene3.tar.gz"))

	if _, err := os.Stat(filepath.Join(dir, "o1", "scene1.md5")); err != nil {
		t.Errorf("expected checksum file to be stored: %v", err)
	}
	if !strings.Contains(res.stdout, "3 downloaded") {
		t.Errorf("unexpected summary:\n%s", res.stdout)
	}
	if !strings.Contains(res.stderr, "run_id=") {
		t.Errorf("expected run_id in logs:\n%s", res.stderr)
	}

	// A second run finds everything on disk and transfers nothing.
	gets := svc.Count("GET")
	heads := svc.Count("HEAD")

	res = execute(t, downloadArgs(svc, dir, "-o", "ALL")...)
	if res.code != ExitSuccess {
		t.Fatalf("second run exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	if svc.Count("HEAD") != heads {
		t.Errorf("second run issued %d HEAD requests", svc.Count("HEAD")-heads)
	}
	for _, r := range svc.Requests()[gets+heads:] {
		if strings.Contains(r, "/orders/") {
			t.Errorf("unexpected transfer request on second run: %s", r)
		}
	}
	if !strings.Contains(res.stdout, "3 already present") {
		t.Errorf("unexpected summary:\n%s", res.stdout)
	}
}

func TestDownloadFeedSource(t *testing.T) {
	svc := startService(t)
	dir := t.TempDir()

	res := execute(t, downloadArgs(svc, dir, "-o", "o2", "--source", "feed")...)
	if res.code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}

	assertFile(t, filepath.Join(dir, "o2", "scene4.tar.gz"), testutils.GenerateTestData(300))
	assertAbsent(t, filepath.Join(dir, "o1"))
}

func TestDownloadResumesPartial(t *testing.T) {
	svc := startService(t)
	dir := t.TempDir()

	data := testutils.GenerateTestData(2500)
	if err := os.MkdirAll(filepath.Join(dir, "o1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "o1", "scene2.tar.gz.part"), data[:1200], 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, downloadArgs(svc, dir, "-o", "o1")...)
	if res.code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}

	assertFile(t, filepath.Join(dir, "o1", "scene2.tar.gz"), data)
	assertAbsent(t, filepath.Join(dir, "o1", "scene2.tar.gz.part"))

	found := false
	for _, r := range svc.Requests() {
		if r == "GET /orders/o1/scene2.tar.gz bytes=1200-" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a range request from byte 1200, got %v", svc.Requests())
	}
}

func TestDownloadRangeIgnored(t *testing.T) {
	svc := startService(t)
	svc.IgnoreRanges(true)
	dir := t.TempDir()

	data := testutils.GenerateTestData(2500)
	if err := os.MkdirAll(filepath.Join(dir, "o1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "o1", "scene2.tar.gz.part"), data[:700], 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, downloadArgs(svc, dir, "-o", "o1")...)
	if res.code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	assertFile(t, filepath.Join(dir, "o1", "scene2.tar.gz"), data)
}

func TestDownloadExitCodes(t *testing.T) {
	svc := startService(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{
			name: "wrong password",
			args: []string{"download", "-e", testEmail, "-u", testUsername, "-p", "nope", "-i", svc.URL, "-o", "ALL", "--rate-limit", "1000"},
			want: ExitAuthFailed,
		},
		{
			name: "unknown order",
			args: downloadArgs(svc, "", "-o", "o-missing"),
			want: ExitOrderNotFound,
		},
		{
			name: "missing email",
			args: []string{"download", "-u", testUsername, "-p", testPassword, "-i", svc.URL},
			want: ExitInvalidArgs,
		},
		{
			name: "missing password without terminal",
			args: []string{"download", "-e", testEmail, "-u", testUsername, "-i", svc.URL},
			want: ExitInvalidArgs,
		},
		{
			name: "unknown source",
			args: downloadArgs(svc, "", "--source", "ftp"),
			want: ExitInvalidArgs,
		},
		{
			name: "unknown flag",
			args: []string{"download", "--bogus"},
			want: ExitInvalidArgs,
		},
		{
			name: "unknown log format",
			args: []string{"verify", "--log-format", "xml"},
			want: ExitInvalidArgs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			for i, a := range args {
				if a == "-d" && args[i+1] == "" {
					args[i+1] = t.TempDir()
				}
			}
			res := execute(t, args...)
			if res.code != tt.want {
				t.Errorf("exit code %d, want %d\nstdout:\n%s\nstderr:\n%s", res.code, tt.want, res.stdout, res.stderr)
			}
		})
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	svc := startService(t)
	dir := t.TempDir()

	// A stale checksum file on disk is reused instead of downloaded.
	if err := os.MkdirAll(filepath.Join(dir, "o1"), 0o755); err != nil {
		t.Fatal(err)
	}
	bogus := strings.Repeat("0", 32) + "  scene1.tar.gz\n"
	if err := os.WriteFile(filepath.Join(dir, "o1", "scene1.md5"), []byte(bogus), 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, downloadArgs(svc, dir, "-o", "o1", "--checksum")...)
	if res.code != ExitChecksumMismatch {
		t.Fatalf("exit code %d, want %d\nstdout:\n%s", res.code, ExitChecksumMismatch, res.stdout)
	}

	// The payload stays in place.
	assertFile(t, filepath.Join(dir, "o1", "scene1.tar.gz"), testutils.GenerateTestData(1000))
	if !strings.Contains(res.stdout, "warning") {
		t.Errorf("expected a warning in the summary:\n%s", res.stdout)
	}
}

func TestDownloadMirror(t *testing.T) {
	svc := startService(t)
	dir := t.TempDir()
	bucketDir := t.TempDir()

	res := execute(t, downloadArgs(svc, dir, "-o", "o2",
		"--mirror-bucket", "file://"+bucketDir,
		"--mirror-prefix", "landsat",
	)...)
	if res.code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}

	assertFile(t, filepath.Join(bucketDir, "landsat", "o2", "scene4.tar.gz"), testutils.GenerateTestData(300))
	if !strings.Contains(res.stdout, "1 mirrored") {
		t.Errorf("unexpected summary:\n%s", res.stdout)
	}
}

func TestList(t *testing.T) {
	svc := startService(t)
	dir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(dir, "o1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "o1", "scene1.tar.gz"), testutils.GenerateTestData(1000), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "o1", "scene2.tar.gz.part"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, "list",
		"-e", testEmail, "-u", testUsername, "-p", testPassword,
		"-i", svc.URL, "-d", dir, "-o", "ALL", "--rate-limit", "1000",
	)
	if res.code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}

	if !strings.Contains(res.stdout, "1 stored, 1 partial, 1 missing") {
		t.Errorf("unexpected totals:\n%s", res.stdout)
	}
	if svc.Count("HEAD") != 0 {
		t.Errorf("list must not send HEAD requests, saw %d", svc.Count("HEAD"))
	}
}

func TestVerify(t *testing.T) {
	svc := startService(t)
	dir := t.TempDir()

	if res := execute(t, downloadArgs(svc, dir, "-o", "ALL", "--checksum")...); res.code != ExitSuccess {
		t.Fatalf("download exit code %d, stderr:\n%s", res.code, res.stderr)
	}

	res := execute(t, "verify", "-d", dir)
	if res.code != ExitSuccess {
		t.Fatalf("verify exit code %d, stdout:\n%s", res.code, res.stdout)
	}
	if !strings.Contains(res.stdout, "2 verified, 0 mismatched, 1 unchecked") {
		t.Errorf("unexpected totals:\n%s", res.stdout)
	}

	if err := os.WriteFile(filepath.Join(dir, "o1", "scene2.tar.gz"), []byte("corrupted"), 0o644); err != nil {
		t.Fatal(err)
	}
	res = execute(t, "verify", "-d", dir, "-o", "o1")
	if res.code != ExitChecksumMismatch {
		t.Errorf("verify exit code %d, want %d\nstdout:\n%s", res.code, ExitChecksumMismatch, res.stdout)
	}
}

func TestMirrorCommand(t *testing.T) {
	dir := t.TempDir()
	bucketDir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(dir, "o1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "o1", "scene1.tar.gz"), []byte("scene"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "o1", "scene2.tar.gz.part"), []byte("sc"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := execute(t, "mirror", "-d", dir, "--mirror-bucket", "file://"+bucketDir)
	if res.code != ExitSuccess {
		t.Fatalf("exit code %d, stdout:\n%s\nstderr:\n%s", res.code, res.stdout, res.stderr)
	}
	assertFile(t, filepath.Join(bucketDir, "o1", "scene1.tar.gz"), []byte("scene"))
	assertAbsent(t, filepath.Join(bucketDir, "o1", "scene2.tar.gz"))

	res = execute(t, "mirror", "-d", dir, "--mirror-bucket", "file://"+bucketDir)
	if !strings.Contains(res.stdout, "0 uploaded, 1 unchanged") {
		t.Errorf("unexpected totals on second run:\n%s", res.stdout)
	}

	if res := execute(t, "mirror", "-d", dir); res.code != ExitInvalidArgs {
		t.Errorf("missing bucket: exit code %d, want %d", res.code, ExitInvalidArgs)
	}
}

func TestZeroValuedFlagsOverrideDefaults(t *testing.T) {
	a := newApp(nil, &bytes.Buffer{}, &bytes.Buffer{})
	cmd, _, err := a.rootCommand().Find([]string{"download"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := cmd.ParseFlags([]string{
		"--pacing-min", "0s",
		"--pacing-max", "0s",
		"--rate-limit", "0",
		"--retry-attempts", "0",
	}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Pacing.Min != 0 || cfg.Pacing.Max != 0 {
		t.Errorf("expected pacing disabled, got %v-%v", cfg.Pacing.Min, cfg.Pacing.Max)
	}
	if cfg.HTTP.RateLimit != 0 {
		t.Errorf("expected rate limit 0, got %v", cfg.HTTP.RateLimit)
	}
	if cfg.HTTP.Retry.Attempts != 0 {
		t.Errorf("expected retry attempts 0, got %d", cfg.HTTP.Retry.Attempts)
	}

	// Flags left out keep the configured value.
	b := newApp(nil, &bytes.Buffer{}, &bytes.Buffer{})
	cmd, _, _ = b.rootCommand().Find([]string{"download"})
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	cfg, err = b.loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.HTTP.RateLimit != 2 {
		t.Errorf("expected default rate limit 2, got %v", cfg.HTTP.RateLimit)
	}
}
