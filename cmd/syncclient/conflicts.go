package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filesync-core/internal/wire"
)

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List files with unresolved sync conflicts",
		Long: `Lists every file the server has marked CONFLICT for this account.

This client keeps no local conflict database (the server's version vectors
are the sole source of truth); the list is rebuilt from the server on every
call. Use 'syncclient resolve' to resolve one.`,
		RunE: runConflicts,
	}
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	files, err := cc.Client.ListFiles(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	conflicted := filterConflicted(files)

	if len(conflicted) == 0 {
		fmt.Println("No unresolved conflicts.")
		return nil
	}

	for _, f := range conflicted {
		fmt.Printf("%s  %s\n", f.FileID, f.FilePath)
	}

	return nil
}

func filterConflicted(files []wire.FileDTO) []wire.FileDTO {
	out := make([]wire.FileDTO, 0, len(files))

	for _, f := range files {
		if f.ConflictStatus == wire.ConflictPresent {
			out = append(out, f)
		}
	}

	return out
}
