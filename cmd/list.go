package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/fingercap/internal/store"
	"github.com/andresmejia3/fingercap/internal/types"
	"github.com/andresmejia3/fingercap/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all captured subjects in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		users, err := DB.ListUsers(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to list subjects", err, nil)
			return err
		}
		printUsers(os.Stdout, users)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printUsers(out io.Writer, users []store.User) {
	if len(users) == 0 {
		fmt.Fprintln(out, "No subjects found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGENDER\tCAPTURES\tTIMESTAMP")
	fmt.Fprintln(w, "--\t----\t------\t--------\t---------")

	for _, u := range users {
		captures := fmt.Sprintf("%d/%d", u.Captures, types.SlotCount)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Gender, captures, u.Timestamp)
	}
	w.Flush()
}
