package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-sorter/internal/config"
	"github.com/kozaktomas/face-sorter/internal/coordinator"
	"github.com/kozaktomas/face-sorter/internal/facematch"
	"github.com/kozaktomas/face-sorter/internal/fingerprint"
	"github.com/kozaktomas/face-sorter/internal/identity"
	"github.com/kozaktomas/face-sorter/internal/pipeline"
	"github.com/kozaktomas/face-sorter/internal/queue"
	"github.com/kozaktomas/face-sorter/internal/web"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Match photo folders against the known faces",
	Long: `Registers the reference images of the known faces directory, then processes
every image of the selected folders and copies the ones showing a known person
to the output folder as <folder>_<file>.

Folders are given with --folder, or selected as the sub-folders of --root whose
name contains --filter. An unfinished previous run is resumed from its queue
before anything is rescanned. Press Ctrl+C to stop; the queue keeps the files
that were not processed yet.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSlice("folder", nil, "Folder to process (repeatable)")
	runCmd.Flags().String("root", "", "Root folder whose sub-folders are candidates")
	runCmd.Flags().String("filter", "", "Only sub-folders of --root whose name contains this text")
	runCmd.Flags().String("output", "", "Output folder for matched images")
	runCmd.Flags().String("known", "", "Known faces directory, one sub-folder per person")
	runCmd.Flags().Int("workers", 0, "Number of parallel workers (0 = CPU count minus a reserve)")
	runCmd.Flags().Bool("recursive", false, "Also scan sub-folders of the selected folders")
	runCmd.Flags().Float64("tolerance", 0, "Maximum face distance that counts as a match")
	runCmd.Flags().String("metric", "", "Distance metric: euclidean or cosine")
	runCmd.Flags().Bool("save", false, "Persist folder selections to the settings file")
	runCmd.Flags().String("status-addr", "", "Serve the status API on this address during the run")
	runCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

// applyRunFlags overrides configuration with the flags the user set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Settings.RootFolder = mustGetString(cmd, "root")
	}
	if flags.Changed("filter") {
		cfg.Settings.FolderFilter = mustGetString(cmd, "filter")
	}
	if flags.Changed("output") {
		cfg.Settings.OutputFolder = mustGetString(cmd, "output")
	}
	if flags.Changed("known") {
		cfg.Settings.KnownFacesDir = mustGetString(cmd, "known")
	}
	if flags.Changed("workers") {
		cfg.Settings.Workers = mustGetInt(cmd, "workers")
		cfg.Run.Workers = cfg.Settings.Workers
	}
	if flags.Changed("recursive") {
		cfg.Settings.Recursive = mustGetBool(cmd, "recursive")
	}
	if flags.Changed("tolerance") {
		cfg.Matching.Tolerance = mustGetFloat64(cmd, "tolerance")
	}
	if flags.Changed("metric") {
		cfg.Matching.Metric = mustGetString(cmd, "metric")
	}
	if flags.Changed("status-addr") {
		cfg.StatusAddr = mustGetString(cmd, "status-addr")
	}
}

// selectFolders returns the explicit folders, or the matching sub-folders of
// the root folder.
func selectFolders(explicit []string, s config.Settings) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if s.RootFolder == "" {
		return nil, nil
	}
	folders, err := queue.MatchingFolders(s.RootFolder, s.FolderFilter)
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, fmt.Errorf("no sub-folder of %s matches %q", s.RootFolder, s.FolderFilter)
	}
	return folders, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	metric, err := facematch.ParseMetric(cfg.Matching.Metric)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := queue.New(cfg.Run.QueueFile, a.logger)
	folders, err := selectFolders(mustGetStringSlice(cmd, "folder"), cfg.Settings)
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		pending, err := q.Pending()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return errors.New("no folders selected: use --folder or --root")
		}
	}

	if mustGetBool(cmd, "save") {
		if err := config.SaveSettings(cfg.SettingsPath, cfg.Settings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Settings saved to %s\n", cfg.SettingsPath)
	}

	client := fingerprint.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.Timeout)
	if err := a.openStore(ctx); err != nil {
		return err
	}

	coord := coordinator.New(a.store, client, q, coordinator.Options{
		Workers:            cfg.Workers(),
		CheckpointInterval: cfg.Run.CheckpointInterval,
		BreakerThreshold:   cfg.Run.BreakerThreshold,
		MaxImageDimension:  cfg.Embedding.MaxDimension,
		Recursive:          cfg.Settings.Recursive,
		Matching: facematch.Options{
			Metric:            metric,
			Tolerance:         cfg.Matching.Tolerance,
			HNSWMinCandidates: cfg.Matching.HNSWMinCandidates,
		},
		Logger: a.logger,
	})

	if cfg.StatusAddr != "" {
		server := web.NewServer(coord, a.store, web.Options{Addr: cfg.StatusAddr, Logger: a.logger})
		go func() {
			if err := server.Start(); err != nil {
				a.logger.Error("status API stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	var stopProgress func()
	if !mustGetBool(cmd, "no-progress") {
		stopProgress = showProgress(coord)
	}
	summary, err := coord.Run(ctx, coordinator.Request{
		Folders:       folders,
		OutputDir:     cfg.Settings.OutputFolder,
		KnownFacesDir: cfg.Settings.KnownFacesDir,
	})
	if stopProgress != nil {
		stopProgress()
	}

	switch {
	case errors.Is(err, pipeline.ErrExtractorUnavailable) && summary == nil:
		return fmt.Errorf("%w (embedding service at %s)", err, client.BaseURL())
	case errors.Is(err, coordinator.ErrCancelled):
		printRegistered(cmd.OutOrStdout(), summary.Registered)
		fmt.Fprintf(cmd.OutOrStdout(), "\nRun cancelled after %d of %d images; %d left in the queue. Run again to resume.\n",
			summary.Processed, summary.Total, summary.Remaining)
		return nil
	case err != nil && summary != nil:
		printSummary(cmd.OutOrStdout(), summary, cfg.Settings.OutputFolder)
		return fmt.Errorf("run aborted, %d images left in the queue: %w", summary.Remaining, err)
	case err != nil:
		return err
	}
	printSummary(cmd.OutOrStdout(), summary, cfg.Settings.OutputFolder)
	return nil
}

// showProgress renders a progress bar from the coordinator counters until
// the returned function is called.
func showProgress(coord *coordinator.Coordinator) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		var bar *progressbar.ProgressBar
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			p := coord.Progress()
			if bar == nil && p.Total > 0 {
				bar = progressbar.NewOptions64(p.Total,
					progressbar.OptionSetDescription("Matching faces"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("images"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			if bar != nil {
				_ = bar.Set64(p.Processed)
			}
			select {
			case <-done:
				if bar != nil {
					_ = bar.Set64(coord.Progress().Processed)
					fmt.Fprintln(os.Stderr)
				}
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func printRegistered(out io.Writer, registered []*identity.Registered) {
	for _, r := range registered {
		fmt.Fprintf(out, "Known face %s: %d reference images", r.Name, r.Images)
		if r.Skipped > 0 {
			fmt.Fprintf(out, " (%d skipped)", r.Skipped)
		}
		fmt.Fprintln(out)
	}
}

func printSummary(out io.Writer, s *coordinator.Summary, outputDir string) {
	printRegistered(out, s.Registered)
	if s.Resumed {
		fmt.Fprintln(out, "Resumed the queue of an unfinished run.")
	}
	fmt.Fprintf(out, "Processed %d of %d images in %s (%d extracted, %d cached)\n",
		s.Processed, s.Total, s.Duration.Round(time.Second), s.Extractions, s.CacheHits)
	if s.Failed > 0 {
		fmt.Fprintf(out, "%d images failed:\n", s.Failed)
		for _, f := range s.Failures {
			fmt.Fprintf(out, "  %s: %v\n", f.Path, f.Err)
		}
	}
	if s.Matched == 0 {
		fmt.Fprintln(out, "No matching images found")
		return
	}
	fmt.Fprintf(out, "%d matching images copied to %s\n", s.Matched, outputDir)
}
