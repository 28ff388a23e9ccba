package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/fingercap/internal/archive"
	"github.com/andresmejia3/fingercap/internal/config"
	"github.com/andresmejia3/fingercap/internal/persist"
	"github.com/andresmejia3/fingercap/internal/store"
	"github.com/andresmejia3/fingercap/internal/types"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("invalid zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBuildExport(t *testing.T) {
	folder := "user_3_Ada_20251210_101500"
	dir := filepath.Join(t.TempDir(), "data", folder)
	os.MkdirAll(dir, 0755)

	var rows []store.CaptureRow
	for i, s := range types.CaptureOrder[:3] {
		p := filepath.Join(dir, s.Key()+".png")
		os.WriteFile(p, []byte(s.Key()), 0644)
		rows = append(rows, store.CaptureRow{ID: i + 1, UserID: 3, FingerLabel: string(s.Finger), CaptureIdx: s.Pose.Index(), FilePath: filepath.ToSlash(p)})
	}

	calls := 0
	gotFolder, data, err := buildExport(rows, os.ReadFile, func() { calls++ })
	if err != nil {
		t.Fatalf("buildExport failed: %v", err)
	}
	if gotFolder != folder {
		t.Errorf("folder = %s, want %s", gotFolder, folder)
	}
	if calls != 3 {
		t.Errorf("progress called %d times, want 3", calls)
	}

	want := []string{folder + "/L1_center.png", folder + "/L1_left.png", folder + "/L1_right.png"}
	if got := zipNames(t, data); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("entries = %v, want %v", got, want)
	}
}

func TestBuildExportErrors(t *testing.T) {
	tests := []struct {
		name string
		rows []store.CaptureRow
	}{
		{"No captures", nil},
		{"Missing file", []store.CaptureRow{{ID: 1, FilePath: "data/user_1_x/missing.png"}}},
		{"Mixed folders", []store.CaptureRow{
			{ID: 1, FilePath: "data/user_1_x/L1_center.png"},
			{ID: 2, FilePath: "data/user_2_y/L1_left.png"},
		}},
	}

	read := func(p string) ([]byte, error) {
		if strings.Contains(p, "missing") {
			return nil, os.ErrNotExist
		}
		return []byte("x"), nil
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := buildExport(tt.rows, read, nil); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestPrintUsers(t *testing.T) {
	var buf bytes.Buffer
	printUsers(&buf, nil)
	if !strings.Contains(buf.String(), "No subjects") {
		t.Errorf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	printUsers(&buf, []store.User{{ID: 7, Name: "Ada Lovelace", Gender: "Female", Timestamp: "20251210_101500", Captures: 30}})
	out := buf.String()
	for _, want := range []string{"ID", "Ada Lovelace", "30/30", "20251210_101500"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestRunReset(t *testing.T) {
	tests := []struct {
		name       string
		opts       ResetOptions
		answers    string
		wantDrop   bool
		wantKeptFS bool
	}{
		{"Everything confirmed", ResetOptions{}, "y\nyes\n", true, false},
		{"Everything declined", ResetOptions{}, "n\n\n", false, true},
		{"Only files", ResetOptions{Files: true}, "y\n", false, false},
		{"Only db", ResetOptions{DB: true}, "y\n", true, true},
		{"Yes skips prompts", ResetOptions{Yes: true}, "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "data")
			os.MkdirAll(dir, 0755)

			dropped := false
			drop := func(context.Context) error { dropped = true; return nil }
			p := &resetPrompt{in: bufio.NewReader(strings.NewReader(tt.answers)), out: io.Discard, yes: tt.opts.Yes}

			if err := runReset(context.Background(), p, tt.opts, drop, []string{dir}); err != nil {
				t.Fatalf("runReset failed: %v", err)
			}
			if dropped != tt.wantDrop {
				t.Errorf("dropped = %v, want %v", dropped, tt.wantDrop)
			}
			if _, err := os.Stat(dir); (err == nil) != tt.wantKeptFS {
				t.Errorf("data dir kept = %v, want %v", err == nil, tt.wantKeptFS)
			}
		})
	}
}

func TestRunResetDropFailure(t *testing.T) {
	p := &resetPrompt{yes: true, out: io.Discard}
	drop := func(context.Context) error { return errors.New("permission denied") }
	if err := runReset(context.Background(), p, ResetOptions{DB: true}, drop, nil); err == nil {
		t.Error("expected the database error to be returned")
	}
}

func TestValidateServeConfig(t *testing.T) {
	base := func() *config.Config {
		c := &config.Config{Addr: ":8080", DataDir: "data", ZipDir: "zip"}
		c.Camera.Front = "/dev/video0"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"Valid", func(c *config.Config) {}, false},
		{"No address", func(c *config.Config) { c.Addr = "" }, true},
		{"No cameras", func(c *config.Config) { c.Camera.Front = "" }, true},
		{"Negative fps", func(c *config.Config) { c.Camera.FrameRate = -1 }, true},
		{"Same dirs", func(c *config.Config) { c.ZipDir = "data" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			if err := validateServeConfig(c); (err != nil) != tt.wantErr {
				t.Errorf("validateServeConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyServeFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "serve"}
	var o ServeOptions
	cmd.Flags().StringVar(&o.Addr, "addr", ":8080", "")
	cmd.Flags().StringVar(&o.Front, "front", "/dev/video0", "")
	cmd.Flags().StringVar(&o.Back, "back", "/dev/video1", "")
	cmd.Flags().StringVar(&o.InputFormat, "input-format", "v4l2", "")
	cmd.Flags().IntVar(&o.FrameRate, "fps", 30, "")
	cmd.Flags().BoolVar(&o.Loop, "loop", false, "")
	cmd.Flags().StringVar(&o.DataDir, "data-dir", "data", "")
	cmd.Flags().StringVar(&o.ZipDir, "zip-dir", "zip", "")
	if err := cmd.Flags().Parse([]string{"--front", "hand.mp4", "--input-format", "", "--loop"}); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Addr: ":9000"}
	cfg.Camera.Back = "/dev/video5"
	applyServeFlags(cmd, cfg, o)

	if cfg.Addr != ":9000" {
		t.Errorf("unset flag overrode config: addr = %s", cfg.Addr)
	}
	if cfg.Camera.Back != "/dev/video5" {
		t.Errorf("unset flag overrode config: back = %s", cfg.Camera.Back)
	}
	if cfg.Camera.Front != "hand.mp4" || cfg.Camera.InputFormat != "" || !cfg.Camera.Loop {
		t.Errorf("set flags not applied: %+v", cfg.Camera)
	}
}

// TestSessionRoundTrip saves a full session through the gateway into a real
// Postgres and rebuilds its archive from the stored rows, the way export does.
func TestSessionRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("fingercap_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, _ := pgContainer.ConnectionString(ctx, "sslmode=disable")
	db, err := store.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close(ctx)

	root := t.TempDir()
	w := archive.NewWriter(filepath.Join(root, "data"), filepath.Join(root, "zip"))
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	gw := persist.New(persist.FromStore(db), w, quiet)

	var caps []types.Capture
	for _, s := range types.CaptureOrder {
		caps = append(caps, types.Capture{Slot: s, PNG: []byte("png:" + s.Key())})
	}
	subject := types.Subject{Name: "Ada Lovelace", Gender: types.Female, Extra: "left handed"}

	h, err := gw.Persist(ctx, subject, caps)
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Captures != types.SlotCount || users[0].Name != "Ada Lovelace" {
		t.Fatalf("unexpected users %+v", users)
	}

	rows, err := db.GetCaptures(ctx, h.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if rows[1].FingerLabel != "L1" || rows[1].CaptureIdx != 2 {
		t.Errorf("second row = %+v, want L1 / 2", rows[1])
	}

	folder, data, err := buildExport(rows, os.ReadFile, nil)
	if err != nil {
		t.Fatalf("buildExport failed: %v", err)
	}
	if folder != h.Folder {
		t.Errorf("export folder %s differs from saved folder %s", folder, h.Folder)
	}
	if n := len(zipNames(t, data)); n != types.SlotCount {
		t.Errorf("export has %d entries, want 30", n)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
