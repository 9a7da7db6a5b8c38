package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/geospaas-harvester/internal/args"
	"github.com/JakeFAU/geospaas-harvester/internal/provider"
)

// newProvidersCmd creates the 'providers' subcommand. It needs no
// configuration, so it skips the root's loading hook.
func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Lists provider types and the parameters they accept",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return describeProviders(cmd.OutOrStdout())
		},
	}
}

func describeProviders(w io.Writer) error {
	common := provider.CommonSpecs()
	for _, kind := range provider.Kinds() {
		if _, err := fmt.Fprintf(w, "%s: %s\n", kind.Name, kind.Help); err != nil {
			return err
		}
		if err := describeSpecs(w, "settings", kind.Settings); err != nil {
			return err
		}
		search := append(append([]args.Spec{}, common...), kind.Search...)
		if err := describeSpecs(w, "search parameters", search); err != nil {
			return err
		}
	}
	return nil
}

func describeSpecs(w io.Writer, title string, specs []args.Spec) error {
	if _, err := fmt.Fprintf(w, "  %s:\n", title); err != nil {
		return err
	}
	for _, s := range specs {
		if _, err := fmt.Fprintf(w, "    %s\n", s.Describe()); err != nil {
			return err
		}
	}
	return nil
}
