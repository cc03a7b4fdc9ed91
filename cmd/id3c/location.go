package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seattleflu/id3c-sub000/internal/domain/warehouse"
	"github.com/seattleflu/id3c-sub000/internal/platform/blob"
)

func locationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Import or look up geographic locations",
		Long: "Import or look up geographic locations.\n\n" +
			"Locations are identified by (scale, identifier), e.g. (\"tract\",\n" +
			"\"53033005302\"), and carry a hierarchy of scale=>identifier pairs\n" +
			"placing them within larger locations. Each location is part of its own\n" +
			"hierarchy. Routines linking encounters to tracts require the tracts to\n" +
			"be imported first.",
	}
	cmd.AddCommand(locationImportCmd())
	cmd.AddCommand(locationLookupCmd())
	return cmd
}

func locationImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <features.geojson | - | s3://bucket/key>",
		Short: "Import locations from a GeoJSON feature collection",
		Long: "Import locations from a GeoJSON FeatureCollection.\n\n" +
			"Existing locations have the imported hierarchy merged into theirs.\n" +
			"Geometries are not stored.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := featureOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			src, err := blob.ParseSource(args[0])
			if err != nil {
				return err
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := blob.NewOpener(blob.S3Config{
				Region:    a.cfg.AWSRegion,
				Endpoint:  a.cfg.S3Endpoint,
				PathStyle: a.cfg.S3PathStyle,
			}).WithStdin(cmd.InOrStdin()).Open(cmd.Context(), src)
			if err != nil {
				return err
			}
			defer r.Close()

			a.logger.Info().Str("source", src.String()).Msg("Reading features")
			features, err := warehouse.ReadLocationFeatures(r, opts)
			if err != nil {
				return err
			}

			svc := warehouse.NewService(warehouse.NewRepo(a.pool), a.logger)
			return a.sessions(cmd).Run(cmd.Context(), actionFromFlags(cmd), func(ctx context.Context) error {
				_, err := svc.ImportLocations(ctx, features)
				return err
			})
		},
	}
	addActionFlags(cmd)
	cmd.Flags().String("scale", "", "Scale of every location (e.g. tract); overrides --scale-from")
	cmd.Flags().String("scale-from", "scale", "Feature property holding each location's scale")
	cmd.Flags().String("identifier-from", "", "Feature property holding each location's identifier (default the feature id)")
	cmd.Flags().String("hierarchy", "", "key=>value pairs added to every location's hierarchy, e.g. \"country=>us, state=>wa\"")
	cmd.Flags().String("hierarchy-from", "hierarchy", "Feature property holding each location's hierarchy")
	return cmd
}

func featureOptionsFromFlags(cmd *cobra.Command) (warehouse.FeatureOptions, error) {
	var opts warehouse.FeatureOptions
	opts.Scale, _ = cmd.Flags().GetString("scale")
	opts.ScaleFrom, _ = cmd.Flags().GetString("scale-from")
	opts.IdentifierFrom, _ = cmd.Flags().GetString("identifier-from")
	opts.HierarchyFrom, _ = cmd.Flags().GetString("hierarchy-from")

	text, _ := cmd.Flags().GetString("hierarchy")
	h, err := warehouse.ParseHierarchy(text)
	if err != nil {
		return opts, fmt.Errorf("--hierarchy: %w", err)
	}
	opts.Hierarchy = h
	return opts, nil
}

func locationLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <scale> <identifier>",
		Short: "Print one location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			loc, err := warehouse.NewService(warehouse.NewRepo(a.pool), a.logger).FindLocation(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("location %s/%s: %w", args[0], args[1], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(loc)
		},
	}
}
