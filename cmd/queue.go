package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-sorter/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or reset the saved run queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the files left by an unfinished run and the images of the selected folders",
	Args:  cobra.NoArgs,
	RunE:  runQueueStatus,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the unfinished run so the next run rescans the folders",
	Args:  cobra.NoArgs,
	RunE:  runQueueClear,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatusCmd, queueClearCmd)

	queueStatusCmd.Flags().StringSlice("folder", nil, "Folder to count (repeatable)")
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	q := queue.New(a.cfg.Run.QueueFile, a.logger)
	pending, err := q.Pending()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Queue file: %s\n", q.Path())
	if len(pending) == 0 {
		fmt.Fprintln(out, "No unfinished run.")
	} else {
		fmt.Fprintf(out, "Unfinished run: %d images left\n", len(pending))
	}

	folders, err := selectFolders(mustGetStringSlice(cmd, "folder"), a.cfg.Settings)
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		return nil
	}
	n, err := queue.CountImages(folders, a.cfg.Settings.Recursive)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Selected folders: %d, images: %d\n", len(folders), n)
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	q := queue.New(a.cfg.Run.QueueFile, a.logger)
	if err := q.Lock(); err != nil {
		return err
	}
	defer q.Unlock()
	if err := q.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Queue cleared.")
	return nil
}
