package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/andresmejia3/fingercap/internal/archive"
	"github.com/andresmejia3/fingercap/internal/camera"
	"github.com/andresmejia3/fingercap/internal/config"
	"github.com/andresmejia3/fingercap/internal/frame"
	"github.com/andresmejia3/fingercap/internal/metrics"
	"github.com/andresmejia3/fingercap/internal/persist"
	"github.com/andresmejia3/fingercap/internal/server"
	"github.com/andresmejia3/fingercap/internal/session"
	"github.com/andresmejia3/fingercap/internal/types"
	"github.com/andresmejia3/fingercap/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// ServeOptions holds the serve flags. Only flags the user actually set
// override the configuration.
type ServeOptions struct {
	Addr        string
	Front       string
	Back        string
	InputFormat string
	FrameRate   int
	Loop        bool
	DataDir     string
	ZipDir      string
	Progress    bool
}

var serveOpts ServeOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture station (camera + operator page)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyServeFlags(cmd, Cfg, serveOpts)
		if err := validateServeConfig(Cfg); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		return runServe(cmd.Context(), Cfg, serveOpts.Progress)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveOpts.Addr, "addr", "a", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveOpts.Front, "front", "/dev/video0", "Front (user-facing) camera device or video file")
	serveCmd.Flags().StringVar(&serveOpts.Back, "back", "/dev/video1", "Back (environment-facing) camera device or video file")
	serveCmd.Flags().StringVarP(&serveOpts.InputFormat, "input-format", "f", "v4l2", "ffmpeg input format (v4l2, avfoundation, dshow; empty for files)")
	serveCmd.Flags().IntVar(&serveOpts.FrameRate, "fps", 30, "Camera frame rate")
	serveCmd.Flags().BoolVar(&serveOpts.Loop, "loop", false, "Loop file inputs forever")
	serveCmd.Flags().StringVar(&serveOpts.DataDir, "data-dir", "data", "Directory for captured PNG files")
	serveCmd.Flags().StringVar(&serveOpts.ZipDir, "zip-dir", "zip", "Directory for session archives")
	serveCmd.Flags().BoolVarP(&serveOpts.Progress, "progress", "p", false, "Show a terminal progress bar of captured slots")
	rootCmd.AddCommand(serveCmd)
}

// applyServeFlags copies explicitly set flags over cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, o ServeOptions) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = o.Addr
	}
	if flags.Changed("front") {
		cfg.Camera.Front = o.Front
	}
	if flags.Changed("back") {
		cfg.Camera.Back = o.Back
	}
	if flags.Changed("input-format") {
		cfg.Camera.InputFormat = o.InputFormat
	}
	if flags.Changed("fps") {
		cfg.Camera.FrameRate = o.FrameRate
	}
	if flags.Changed("loop") {
		cfg.Camera.Loop = o.Loop
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = o.DataDir
	}
	if flags.Changed("zip-dir") {
		cfg.ZipDir = o.ZipDir
	}
}

func validateServeConfig(cfg *config.Config) error {
	if cfg.Addr == "" {
		return errors.New("listen address is required")
	}
	if cfg.Camera.Front == "" && cfg.Camera.Back == "" {
		return errors.New("at least one camera input is required")
	}
	if cfg.Camera.FrameRate < 0 {
		return fmt.Errorf("invalid frame rate %d", cfg.Camera.FrameRate)
	}
	if cfg.DataDir == "" || cfg.ZipDir == "" {
		return errors.New("data and zip directories are required")
	}
	if cfg.DataDir == cfg.ZipDir {
		return errors.New("data and zip directories must differ")
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, showProgress bool) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		utils.ShowError("ffmpeg not found in PATH", err, nil)
		return err
	}

	writer := archive.NewWriter(cfg.DataDir, cfg.ZipDir)
	var gwOpts []persist.Option
	if cfg.S3.Enabled() {
		up, err := archive.NewS3Uploader(archive.S3Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Endpoint:  cfg.S3.Endpoint,
		})
		if err != nil {
			utils.ShowError("Failed to configure S3 uploads", err, nil)
			return err
		}
		gwOpts = append(gwOpts, persist.WithUploader(up))
		fmt.Fprintf(os.Stderr, "☁️  Archives will be uploaded to s3://%s/%s\n", cfg.S3.Bucket, cfg.S3.Prefix)
	}
	gateway := persist.New(persist.FromStore(DB), writer, Log, gwOpts...)

	raw, display := frame.NewStore(), frame.NewStore()
	met := metrics.New()

	var srv *server.Server
	cam := camera.New(camera.Config{
		FrontDevice: cfg.Camera.Front,
		BackDevice:  cfg.Camera.Back,
		InputFormat: cfg.Camera.InputFormat,
		FrameRate:   cfg.Camera.FrameRate,
		Loop:        cfg.Camera.Loop,
	}, raw, display, Log,
		camera.WithMetrics(met),
		camera.WithInstruction(func() string { return srv.Instruction() }),
	)

	var progress func(done, total int)
	if showProgress {
		bar := progressbar.NewOptions(types.SlotCount,
			progressbar.OptionSetDescription("🖐️  Capturing"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		)
		progress = func(done, _ int) { bar.Set(done) }
	}

	srv = server.New(server.Deps{
		Controller: session.New(),
		Raw:        raw,
		Display:    display,
		Camera:     cam,
		Saver:      gateway,
		ZipDir:     cfg.ZipDir,
		Log:        Log,
		Metrics:    met,
		Progress:   progress,
		Health:     DB.Ping,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	camDone := make(chan error, 1)
	go func() { camDone <- cam.Run(ctx) }()

	fmt.Fprintf(os.Stderr, "📷 Capture station listening on %s (front=%s back=%s)\n", cfg.Addr, cfg.Camera.Front, cfg.Camera.Back)
	err := srv.ListenAndServe(ctx, cfg.Addr)

	cancel()
	<-camDone
	if err != nil {
		utils.ShowError("HTTP server failed", err, nil)
		return err
	}
	fmt.Fprintln(os.Stderr, "\n🏁 Capture station stopped.")
	return nil
}
