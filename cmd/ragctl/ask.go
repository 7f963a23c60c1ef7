package main

import (
	"strings"

	"github.com/spf13/cobra"

	"policy-rag-go/internal/service"
)

func askCMD() *cobra.Command {
	var (
		docID    string
		topK     int
		minScore float64
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Answer a question from one document's excerpts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			req := service.AskRequest{DocID: docID, Question: strings.Join(args, " "), TopK: topK}
			if cmd.Flags().Changed("min-score") {
				req.MinScore = &minScore
			}
			result, err := a.chat.Ask(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, result)
			}
			cmd.Println(result.Answer)
			if len(result.Citations) > 0 {
				cmd.Println()
				cmd.Println("Sources:")
				for _, c := range result.Citations {
					cmd.Printf("  [p.%d %s] %s\n", c.Page, c.ChunkID, c.Excerpt)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&docID, "doc", "", "document id")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "passages to retrieve (default from config)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum similarity (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("doc")
	return cmd
}
