package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/service"
)

func ingestCMD() *cobra.Command {
	var (
		docID     string
		pagesPath string
		embedding string
		chunkSize int
		overlap   int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index pre-extracted pages from a JSON file",
		Long: `Reads a JSON array of {"page": N, "text": "..."} objects and builds
the document index under the artifact directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(pagesPath)
			if err != nil {
				return err
			}
			var pages []model.Page
			if err := json.Unmarshal(raw, &pages); err != nil {
				return fmt.Errorf("decode %s: %w", pagesPath, err)
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			req := model.IngestRequest{DocID: docID, FileName: filepath.Base(pagesPath), Pages: pages, EmbeddingModel: embedding, ChunkSize: chunkSize}
			if cmd.Flags().Changed("overlap") {
				req.Overlap = &overlap
			}
			result, err := a.docs.Ingest(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&docID, "doc", "", "document id")
	cmd.Flags().StringVar(&pagesPath, "pages", "", "pages JSON file")
	cmd.Flags().StringVar(&embedding, "embedding-model", "", "embedding model (default from config)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in characters (default from config)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "chunk overlap in characters (default from config)")
	_ = cmd.MarkFlagRequired("doc")
	_ = cmd.MarkFlagRequired("pages")
	return cmd
}

func uploadCMD() *cobra.Command {
	var (
		docID  string
		vision bool
	)
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Extract a PDF through Tika and index it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if docID == "" {
				docID = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			result, err := a.docs.Upload(cmd.Context(), service.UploadRequest{
				DocID:        docID,
				FileName:     filepath.Base(args[0]),
				Data:         data,
				EnableVision: vision,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&docID, "doc", "", "document id (default: file name without extension)")
	cmd.Flags().BoolVar(&vision, "vision", false, "describe embedded images with the vision model")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
