package main

import (
	"github.com/spf13/cobra"

	"github.com/jrepp/mockstore/cmd/mockstore/internal/ui"
	"github.com/jrepp/mockstore/pkg/launcher"
)

var engineCmd = &cobra.Command{
	Use:   "engine <version>...",
	Short: "Show the storage engine chosen for server versions",
	Long: `Print the in-memory storage engine mockstore passes to a server of the
given version. Versions before 3.2 get inMemoryExperiment, later ones
ephemeralForTest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEngine,
}

func runEngine(cmd *cobra.Command, args []string) error {
	out := ui.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	table := out.NewTable("VERSION", "ENGINE")
	for _, version := range args {
		engine, err := launcher.StorageEngineFor(version)
		if err != nil {
			return err
		}
		table.AddRow(version, engine)
	}
	table.Render()
	return nil
}
