package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/fingercap/internal/utils"
	"github.com/spf13/cobra"
)

// ResetOptions selects what reset clears. With neither DB nor Files set,
// everything is cleared.
type ResetOptions struct {
	DB    bool
	Files bool
	Yes   bool
}

var resetOpts ResetOptions

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Capture Files, Archives)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		p := &resetPrompt{in: bufio.NewReader(os.Stdin), out: os.Stdout, yes: resetOpts.Yes}
		dropDB := func(ctx context.Context) error { return DB.Reset(ctx) }
		if err := runReset(cmd.Context(), p, resetOpts, dropDB, []string{Cfg.DataDir, Cfg.ZipDir}); err != nil {
			utils.ShowError("Failed to reset database", err, nil)
			return err
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetOpts.DB, "db", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetOpts.Files, "files", false, "Clear capture files and zip archives")
	resetCmd.Flags().BoolVarP(&resetOpts.Yes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

type resetPrompt struct {
	in  *bufio.Reader
	out io.Writer
	yes bool
}

func (p *resetPrompt) confirm(prompt string) bool {
	if p.yes {
		return true
	}
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	res, _ := p.in.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func runReset(ctx context.Context, p *resetPrompt, o ResetOptions, dropDB func(context.Context) error, dirs []string) error {
	if !o.DB && !o.Files {
		o.DB, o.Files = true, true
	}

	if o.DB && p.confirm("⚠️  Are you sure you want to DROP the users and captures tables?") {
		fmt.Fprintln(p.out, "🗑️  Clearing Database...")
		if err := dropDB(ctx); err != nil {
			return err
		}
	}

	if o.Files && p.confirm(fmt.Sprintf("⚠️  Are you sure you want to delete %s?", strings.Join(dirs, " and "))) {
		fmt.Fprintln(p.out, "🗑️  Clearing Capture Files and Archives...")
		for _, d := range dirs {
			if err := os.RemoveAll(d); err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", d, err)
			}
		}
	}

	fmt.Fprintln(p.out, "✨ System Reset Complete.")
	return nil
}
