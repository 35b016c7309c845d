package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gitserve/pkg/repo"
)

func newRepackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repack [repository]",
		Short: "Consolidate loose objects into a pack file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			r, err := repo.Open(path)
			if err != nil {
				return err
			}
			summary, err := r.Objects.Repack()
			if err != nil {
				return err
			}
			if summary.PackedObjects == 0 {
				cmd.Println("nothing to pack")
				return nil
			}
			cmd.Printf("packed %d objects into %s\n",
				summary.PackedObjects, filepath.Base(summary.PackFile))
			return nil
		},
	}
}
