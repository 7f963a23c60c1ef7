package main

import (
	"errors"

	"github.com/spf13/cobra"

	"policy-rag-go/internal/model"
)

func listCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexed documents in the artifact directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			ids, err := a.store.ListDocIDs()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				cmd.Println("No documents found.")
				return nil
			}
			for _, id := range ids {
				meta, err := a.artifacts.LoadMetadata(cmd.Context(), id)
				switch {
				case errors.Is(err, model.ErrNotFound):
					cmd.Printf("%-40s  (no index)\n", id)
				case err != nil:
					cmd.Printf("%-40s  error: %v\n", id, err)
				default:
					cmd.Printf("%-40s  %d chunks (%d failed)  %s  dim %d\n",
						id, meta.ChunksEmbedded, meta.ChunksFailed, meta.EmbeddingModel, meta.VectorDim)
				}
			}
			return nil
		},
	}
}
