package cmd

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
	"github.com/JakeFAU/zipcrawler/internal/parser"
	"github.com/JakeFAU/zipcrawler/internal/storage/local"
)

// newParseCmd creates the 'parse' subcommand, which needs no backends.
func newParseCmd() *cobra.Command {
	var (
		index      int
		archiveDir string
	)
	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse a saved zip page and print the record as JSON",
		Args:  cobra.ExactArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readPage(archiveDir, args[0])
			if err != nil {
				return err
			}
			rec, err := parser.Parse(crawler.RawResult{Index: index, URL: args[0], Content: body})
			if err != nil {
				cmd.PrintErrf("warning: %v\n", err)
			}
			payload, err := sonic.ConfigStd.MarshalIndent(rec, "", "  ")
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(payload)); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "index recorded on the parsed record")
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "",
		"local archive root; FILE is then an archived object path under it")
	return cmd
}

// readPage loads FILE directly, or as an object of the local archive when
// archiveDir is set.
func readPage(archiveDir, name string) ([]byte, error) {
	if archiveDir == "" {
		// #nosec G304 -- the operator names the file.
		body, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read page: %w", err)
		}
		return body, nil
	}
	archive, err := local.New(local.Config{BaseDir: archiveDir})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	body, err := archive.ReadObject(name)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return body, nil
}
