package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/cram-go/pkg/cram"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats <file.cram|prefix/|->",
	Short: "Show statistics for CRAM files",
	Long: `Display record counts and per data series block sizes of a CRAM file.

Records are decoded without a reference, so no FASTA is needed. A path
ending in '/' scans every .cram file under that directory or S3 prefix.

Examples:
  cram stats sample.cram
  cram stats --json sample.cram
  cram stats s3://bucket/run42/`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		paths := []string{args[0]}
		if strings.HasSuffix(args[0], "/") {
			st, err := cram.NewStorage(ctx, strings.TrimSuffix(args[0], "/"))
			if err != nil {
				return err
			}
			files, err := st.List("")
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", args[0], err)
			}
			paths = paths[:0]
			for _, f := range files {
				if strings.HasSuffix(f, ".cram") {
					paths = append(paths, strings.TrimSuffix(st.BasePath(), "/")+"/"+f)
				}
			}
			if len(paths) == 0 {
				return fmt.Errorf("no .cram files under %s", args[0])
			}
		}

		for i, p := range paths {
			in, err := openInput(ctx, p)
			if err != nil {
				return err
			}
			stats, err := cram.ScanStatistics(in)
			in.Close()
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", p, err)
			}

			if statsJSON {
				if err := stats.WriteJSON(os.Stdout); err != nil {
					return err
				}
				continue
			}
			if i > 0 {
				fmt.Println()
			}
			fmt.Println("===========================================")
			fmt.Println(p)
			fmt.Println("===========================================")
			stats.WriteText(os.Stdout)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false,
		"Write statistics as JSON")
}
