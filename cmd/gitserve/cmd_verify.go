package main

import (
	"github.com/spf13/cobra"

	"github.com/odvcencio/gitserve/pkg/repo"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [repository]",
		Short: "Check object store integrity (loose objects and packs)",
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
			summary, err := r.Objects.Verify()
			if err != nil {
				return err
			}
			cmd.Printf("verified %d loose objects, %d packs (%d packed objects)\n",
				summary.LooseObjects, summary.PackFiles, summary.PackObjects)
			return nil
		},
	}
}
