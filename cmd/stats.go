package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-sorter/internal/database"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the database holds",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.openStore(cmd.Context()); err != nil {
		return err
	}

	stats, err := a.store.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backend:   %s\n", database.Scheme(a.cfg.Database.URL))
	fmt.Fprintf(out, "Paths:     %d\n", stats.FilePaths)
	fmt.Fprintf(out, "Images:    %d\n", stats.Images)
	fmt.Fprintf(out, "Faces:     %d\n", stats.Vectors)
	fmt.Fprintf(out, "Persons:   %d\n", stats.Persons)
	fmt.Fprintf(out, "Matches:   %d\n", stats.Matches)
	return nil
}
