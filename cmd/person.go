package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-sorter/internal/fingerprint"
	"github.com/kozaktomas/face-sorter/internal/identity"
	"github.com/kozaktomas/face-sorter/internal/pipeline"
)

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage known persons",
}

var personAddCmd = &cobra.Command{
	Use:   "add <name> <folder>",
	Short: "Register the images of a folder as reference faces of a person",
	Long: `Encodes every jpg, jpeg and png image of the folder and binds it to the named
person. Only the first face found in each reference image is used; images
without a face are skipped. Names are matched case and accent insensitively,
so "Jiří" and "jiri" are the same person.`,
	Args: cobra.ExactArgs(2),
	RunE: runPersonAdd,
}

var personImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Register every sub-folder of a directory as a person",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonImport,
}

var personListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known persons",
	Args:  cobra.NoArgs,
	RunE:  runPersonList,
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personAddCmd, personImportCmd, personListCmd)
}

func newRegistry(cmd *cobra.Command) (*app, *identity.Registry, error) {
	a, err := newApp(cmd)
	if err != nil {
		return nil, nil, err
	}
	client := fingerprint.NewEmbeddingClient(a.cfg.Embedding.URL, a.cfg.Embedding.Timeout)
	if _, err := client.Health(cmd.Context()); err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("%w at %s: %v", pipeline.ErrExtractorUnavailable, client.BaseURL(), err)
	}
	if err := a.openStore(cmd.Context()); err != nil {
		a.Close()
		return nil, nil, err
	}
	encoder := pipeline.NewEncoder(a.store, client, a.cfg.Embedding.MaxDimension, a.logger)
	return a, identity.NewRegistry(a.store, encoder, a.logger), nil
}

func runPersonAdd(cmd *cobra.Command, args []string) error {
	a, registry, err := newRegistry(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := registry.Register(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (id %d): %d reference images, %d skipped\n",
		r.Name, r.PersonID, r.Images, r.Skipped)
	return nil
}

func runPersonImport(cmd *cobra.Command, args []string) error {
	a, registry, err := newRegistry(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	registered, err := registry.RegisterDirectory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, r := range registered {
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (id %d): %d reference images, %d skipped\n",
			r.Name, r.PersonID, r.Images, r.Skipped)
	}
	return nil
}

func runPersonList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.openStore(cmd.Context()); err != nil {
		return err
	}

	persons, err := a.store.ListPersons(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list persons: %w", err)
	}
	known, err := a.store.KnownVectors(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load reference faces: %w", err)
	}
	faces := make(map[int64]int)
	for _, k := range known {
		faces[k.PersonID]++
	}

	if len(persons) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No known persons. Add one with: face-sorter person add <name> <folder>")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tREFERENCE FACES\tADDED")
	for _, p := range persons {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", p.ID, p.Name, faces[p.ID], p.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}
