package cmd

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/andresmejia3/fingercap/internal/archive"
	"github.com/andresmejia3/fingercap/internal/store"
	"github.com/andresmejia3/fingercap/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <user_id>",
	Short: "Rebuild the zip archive of a stored subject from its capture files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := strconv.Atoi(args[0])
		if err != nil {
			utils.ShowError("Invalid user ID", err, nil)
			return err
		}

		ctx := cmd.Context()
		u, err := DB.GetUser(ctx, id)
		if errors.Is(err, pgx.ErrNoRows) {
			err = fmt.Errorf("no subject with id %d", id)
		}
		if err != nil {
			utils.ShowError("Failed to load subject", err, nil)
			return err
		}
		rows, err := DB.GetCaptures(ctx, id)
		if err != nil {
			utils.ShowError("Failed to load captures", err, nil)
			return err
		}

		bar := progressbar.NewOptions(len(rows),
			progressbar.OptionSetDescription(fmt.Sprintf("📦 Exporting %s", u.Name)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		folder, data, err := buildExport(rows, os.ReadFile, func() { bar.Add(1) })
		bar.Finish()
		if err != nil {
			utils.ShowError("Failed to build archive", err, nil)
			return err
		}

		out := exportOut
		if out == "" {
			out = filepath.Join(Cfg.ZipDir, folder+".zip")
		}
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			utils.ShowError("Failed to write archive", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "\n✅ Exported %d captures of user %d to %s\n", len(rows), id, out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output zip path (default: <zip-dir>/<folder>.zip)")
	rootCmd.AddCommand(exportCmd)
}

// buildExport zips the files recorded in rows. Entries are named
// <folder>/<file>, where folder is the directory the captures were saved in.
func buildExport(rows []store.CaptureRow, read func(string) ([]byte, error), onFile func()) (string, []byte, error) {
	if len(rows) == 0 {
		return "", nil, errors.New("subject has no captures")
	}

	folder := filepath.Base(filepath.Dir(filepath.FromSlash(rows[0].FilePath)))
	files := make(map[string][]byte, len(rows))
	for _, r := range rows {
		p := filepath.FromSlash(r.FilePath)
		if d := filepath.Base(filepath.Dir(p)); d != folder {
			return "", nil, fmt.Errorf("capture %d is in %s, expected %s", r.ID, d, folder)
		}
		data, err := read(p)
		if err != nil {
			return "", nil, fmt.Errorf("capture %s: %w", r.FilePath, err)
		}
		files[path.Join(folder, filepath.Base(p))] = data
		if onFile != nil {
			onFile()
		}
	}

	data, err := archive.ZipInMemory(files)
	if err != nil {
		return "", nil, err
	}
	return folder, data, nil
}
