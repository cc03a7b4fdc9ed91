package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/seattleflu/id3c-sub000/internal/domain/identifier"
	"github.com/seattleflu/id3c-sub000/internal/platform/db"
)

func identifierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identifier",
		Short: "Mint, look up and organize identifiers",
	}
	cmd.AddCommand(mintCmd())
	cmd.AddCommand(lookupCmd())
	cmd.AddCommand(setCmd())
	cmd.AddCommand(setUseCmd())
	cmd.AddCommand(batchesCmd())
	return cmd
}

func mintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint <set name> <count>",
		Short: "Mint new identifiers",
		Long: "Mint new identifiers.\n\n<set name> is an existing identifier set, as listed by " +
			"\"id3c identifier set ls\".\n<count> is the number of new identifiers to mint.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid count %q", args[1])
			}
			quiet, _ := cmd.Flags().GetBool("quiet")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			action := db.ActionCommit
			if dryRun {
				action = db.ActionDryRun
			}

			svc := a.identifiers()
			var minted []*identifier.Identifier
			err = a.sessions(cmd).Run(cmd.Context(), action, func(ctx context.Context) error {
				var err error
				minted, err = svc.Mint(ctx, args[0], count)
				return err
			})
			if err != nil {
				return err
			}

			if !quiet {
				for _, id := range minted {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id.Barcode, id.UUID)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolP("quiet", "q", false, "Don't print the minted identifiers")
	cmd.Flags().Bool("dry-run", false, "Mint, then roll back instead of saving")
	return cmd
}

func lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <barcode or uuid>",
		Short: "Show the identifier for a barcode or UUID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.identifiers().Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			widths := []int{12}
			printRow(cmd, widths, "barcode", id.Barcode)
			printRow(cmd, widths, "uuid", id.UUID.String())
			printRow(cmd, widths, "set", id.SetName)
			printRow(cmd, widths, "use", id.SetUse)
			printRow(cmd, widths, "generated", id.Generated.Format(time.RFC3339))
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Manage identifier sets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List identifier sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sets, err := a.identifiers().ListSets(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, len(sets))
			uses := make([]string, len(sets))
			for i, s := range sets {
				names[i], uses[i] = s.Name, s.Use
			}
			widths := []int{columnWidth(names), columnWidth(uses)}
			for _, s := range sets {
				desc := ""
				if s.Description != nil {
					desc = *s.Description
				}
				printRow(cmd, widths, s.Name, s.Use, desc)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name> <use> <description>",
		Short: "Create a new identifier set",
		Long: "Create a new identifier set.\n\n<use> must be one of the uses listed by " +
			"\"id3c identifier set-use ls\".",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			set := &identifier.Set{Name: args[0], Use: args[1], Description: &args[2]}
			svc := a.identifiers()
			err = a.sessions(cmd).Run(cmd.Context(), db.ActionCommit, func(ctx context.Context) error {
				return svc.CreateSet(ctx, set)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created identifier set %s (#%d)\n", set.Name, set.ID)
			return nil
		},
	})
	return cmd
}

func setUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-use",
		Short: "Manage identifier set uses",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List identifier set uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			uses, err := a.identifiers().ListSetUses(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, len(uses))
			for i, u := range uses {
				names[i] = u.Use
			}
			widths := []int{columnWidth(names)}
			for _, u := range uses {
				printRow(cmd, widths, u.Use, u.Description)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <use> <description>",
		Short: "Create a new identifier set use",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			use := &identifier.SetUse{Use: args[0], Description: args[1]}
			svc := a.identifiers()
			err = a.sessions(cmd).Run(cmd.Context(), db.ActionCommit, func(ctx context.Context) error {
				return svc.CreateSetUse(ctx, use)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created identifier set use %s\n", use.Use)
			return nil
		},
	})
	return cmd
}

func batchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches [<set name>]",
		Short: "List minting batches, optionally for one set",
		Long: "List minting batches, optionally for one set.\n\n" +
			"With --generated, print the identifiers of the batch minted at that\n" +
			"time instead. The time is as printed by the listing.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setName := ""
			if len(args) == 1 {
				setName = args[0]
			}
			generatedFlag, _ := cmd.Flags().GetString("generated")

			var generated time.Time
			if generatedFlag != "" {
				if setName == "" {
					return fmt.Errorf("--generated requires a set name")
				}
				t, err := time.Parse(time.RFC3339Nano, generatedFlag)
				if err != nil {
					return fmt.Errorf("invalid --generated time %q: %w", generatedFlag, err)
				}
				generated = t
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := a.identifiers()
			if !generated.IsZero() {
				ids, err := svc.ListBatch(cmd.Context(), setName, generated)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id.Barcode, id.UUID)
				}
				return nil
			}

			batches, err := svc.ListBatches(cmd.Context(), setName)
			if err != nil {
				return err
			}
			names := make([]string, len(batches))
			for i, b := range batches {
				names[i] = b.SetName
			}
			widths := []int{columnWidth(names), 36}
			for _, b := range batches {
				printRow(cmd, widths, b.SetName, b.Generated.Format(time.RFC3339Nano), strconv.Itoa(b.Count))
			}
			return nil
		},
	}
	cmd.Flags().String("generated", "", "Print the identifiers minted at this time")
	return cmd
}
