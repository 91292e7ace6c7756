// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/bot-engine/internal/store"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Seed and dump the entity store",
}

var entitiesImportCmd = &cobra.Command{
	Use:   "import [files...]",
	Short: "Import entity seeds from YAML files",
	Long: `Import reads YAML seed files, each a list of {type, values, removable,
knowledge}, and adds every value to the entity store. Values already known
gain the listed knowledge links. Re-importing a file adds nothing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEntitiesImport,
}

func runEntitiesImport(cmd *cobra.Command, args []string) error {
	st, err := store.NewStore(engineConfig(viper.GetViper()).Store)
	if err != nil {
		return err
	}
	defer st.Close()

	total := 0
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		n, err := st.ImportEntities(cmd.Context(), f)
		f.Close()
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		fmt.Fprintf(os.Stdout, "%s: %d added\n", path, n)
		total += n
	}
	fmt.Fprintf(os.Stdout, "\n%d entities added\n", total)
	return nil
}

var entitiesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the entity store as YAML seeds",
	RunE:  runEntitiesExport,
}

func runEntitiesExport(cmd *cobra.Command, args []string) error {
	st, err := store.NewStore(engineConfig(viper.GetViper()).Store)
	if err != nil {
		return err
	}
	defer st.Close()

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		return st.ExportEntities(cmd.Context(), os.Stdout)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := st.ExportEntities(cmd.Context(), f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported to %s\n", out)
	return nil
}

func init() {
	entitiesExportCmd.Flags().String("out", "", "output file (default: stdout)")

	entitiesCmd.AddCommand(entitiesImportCmd)
	entitiesCmd.AddCommand(entitiesExportCmd)

	rootCmd.AddCommand(entitiesCmd)
}
