package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/platform/blob"
	"github.com/seattleflu/id3c-sub000/internal/platform/db"
)

func receivingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receiving",
		Short: "Load and inspect receiving documents",
	}
	cmd.AddCommand(uploadCmd())
	cmd.AddCommand(processingLogCmd())
	return cmd
}

func uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <table> <file | - | s3://bucket/key>",
		Short: "Bulk load newline-delimited JSON documents",
		Long: "Bulk load newline-delimited JSON documents into a receiving table.\n\n" +
			"The source is a file, \"-\" for standard input, an S3 object, or an S3\n" +
			"prefix ending in \"/\" whose objects are loaded in key order. Every line\n" +
			"must be a JSON document; the whole upload is rejected otherwise.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := receiving.ParseTable(args[0])
			if err != nil {
				return err
			}
			src, err := blob.ParseSource(args[1])
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			opener := blob.NewOpener(blob.S3Config{
				Region:    a.cfg.AWSRegion,
				Endpoint:  a.cfg.S3Endpoint,
				PathStyle: a.cfg.S3PathStyle,
			}).WithStdin(cmd.InOrStdin())

			r, err := opener.Open(cmd.Context(), src)
			if err != nil {
				return err
			}
			defer r.Close()

			svc := receiving.NewService(receiving.NewRepo(a.pool), a.logger)
			svc.SetMetrics(a.metrics.HTTP)

			action := db.ActionCommit
			if dryRun {
				action = db.ActionDryRun
			}

			var n int64
			err = a.sessions(cmd).Run(cmd.Context(), action, func(ctx context.Context) error {
				var err error
				n, err = svc.Upload(ctx, table, r)
				return err
			})
			if err != nil {
				return err
			}
			a.logger.Info().Str("source", src.String()).Int64("documents", n).Msgf("Loaded %d documents into receiving.%s", n, table)
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Load, then roll back instead of saving")
	return cmd
}

func processingLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <table> <id>",
		Short: "Print the processing log of one document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := receiving.ParseTable(args[0])
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[1])
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := receiving.NewService(receiving.NewRepo(a.pool), a.logger).ProcessingLog(cmd.Context(), table, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
}
