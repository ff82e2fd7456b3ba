package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filesync-core/internal/resolver"
	"github.com/tonimelisma/filesync-core/internal/wire"
)

func newResolveCmd() *cobra.Command {
	var useLocal, useServer, cancel bool
	var mergedFile string

	cmd := &cobra.Command{
		Use:   "resolve [file-id-or-path]",
		Short: "Resolve a conflicted file",
		Long: `Resolves one CONFLICT file by file ID or path.

Strategies:
  --use-local          keep the local copy, submit it as the new version
  --use-server         overwrite the local copy with the server's version
  --use-merged <file>  write the given file's bytes locally and submit them
  --cancel             leave the file in CONFLICT for a later attempt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args[0], resolveFlags{useLocal, useServer, cancel, mergedFile})
		},
	}

	cmd.Flags().BoolVar(&useLocal, "use-local", false, "keep the local copy")
	cmd.Flags().BoolVar(&useServer, "use-server", false, "keep the server's copy")
	cmd.Flags().StringVar(&mergedFile, "use-merged", "", "path to a file containing the merged content")
	cmd.Flags().BoolVar(&cancel, "cancel", false, "leave the conflict unresolved")
	cmd.MarkFlagsMutuallyExclusive("use-local", "use-server", "use-merged", "cancel")

	return cmd
}

type resolveFlags struct {
	useLocal   bool
	useServer  bool
	cancel     bool
	mergedFile string
}

func runResolve(cmd *cobra.Command, ref string, flags resolveFlags) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	outcome, mergedPath, err := flags.outcome()
	if err != nil {
		return err
	}

	files, err := cc.Client.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	target, err := findConflict(files, ref)
	if err != nil {
		return err
	}

	localPath := filepath.Join(cc.Cfg.SyncPath, filepath.FromSlash(target.FilePath))

	localBytes, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading local file %s: %w", localPath, err)
	}

	serverBytes, err := cc.Client.Download(ctx, target.FileID)
	if err != nil {
		return fmt.Errorf("downloading server copy: %w", err)
	}

	conflict := resolver.Conflict{
		FileID:      target.FileID,
		Path:        target.FilePath,
		LocalBytes:  localBytes,
		ServerBytes: serverBytes,
	}

	var mergedBytes []byte
	if mergedPath != "" {
		mergedBytes, err = os.ReadFile(mergedPath)
		if err != nil {
			return fmt.Errorf("reading merged file %s: %w", mergedPath, err)
		}
	}

	resolution, err := resolver.Resolve(conflict, outcome, mergedBytes)
	if err != nil {
		return err
	}

	return applyResolution(ctx, cc, target, localPath, resolution)
}

func (f resolveFlags) outcome() (resolver.Outcome, string, error) {
	switch {
	case f.useLocal:
		return resolver.USE_LOCAL, "", nil
	case f.useServer:
		return resolver.USE_SERVER, "", nil
	case f.mergedFile != "":
		return resolver.USE_MERGED, f.mergedFile, nil
	case f.cancel:
		return resolver.CANCELLED, "", nil
	default:
		return 0, "", fmt.Errorf("specify a resolution: --use-local, --use-server, --use-merged <file>, or --cancel")
	}
}

func findConflict(files []wire.FileDTO, ref string) (wire.FileDTO, error) {
	for _, f := range filterConflicted(files) {
		if f.FileID == ref || f.FilePath == ref {
			return f, nil
		}
	}

	return wire.FileDTO{}, fmt.Errorf("no unresolved conflict matches %q", ref)
}

func applyResolution(ctx context.Context, cc *CLIContext, target wire.FileDTO, localPath string, resolution resolver.Resolution) error {
	if resolution.WriteLocal != nil {
		if err := os.WriteFile(localPath, resolution.WriteLocal, 0o644); err != nil {
			return fmt.Errorf("writing resolved content locally: %w", err)
		}
	}

	if resolution.SubmitUpdate == nil {
		cc.Logger.Info("conflict resolution recorded without a server update",
			"file_id", target.FileID, "outcome", resolution.Outcome.String())

		return nil
	}

	vs, err := loadVectorStore(cc.Cfg)
	if err != nil {
		return fmt.Errorf("loading local version vector store: %w", err)
	}

	sv, err := decodeVectorSnapshot(target.VersionVector)
	if err != nil {
		return err
	}

	if err := vs.Adopt(target.FilePath, vs.Get(target.FilePath).Merge(sv)); err != nil {
		return fmt.Errorf("merging server version vector: %w", err)
	}

	v, err := vs.Increment(target.FilePath, cc.Cfg.ClientID)
	if err != nil {
		return fmt.Errorf("bumping local version vector: %w", err)
	}

	vv := wire.VersionVectorDTO{Vectors: v.Snapshot()}

	result, err := cc.Client.Update(ctx, target.FileID, cc.Cfg.ClientID, vv, filepath.Base(target.FilePath), resolution.SubmitUpdate)
	if err != nil {
		return fmt.Errorf("submitting resolved content: %w", err)
	}

	cc.Logger.Info("conflict resolved", "file_id", target.FileID, "outcome", resolution.Outcome.String(), "result", result.Result)

	return nil
}
