package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/domain/warehouse"
	"github.com/seattleflu/id3c-sub000/internal/engine"
	"github.com/seattleflu/id3c-sub000/internal/platform/db"
	"github.com/seattleflu/id3c-sub000/internal/routine"
)

func etlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Process receiving documents into the warehouse",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List routines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listRoutines(cmd, routineRegistry(routine.Deps{}).List())
			return nil
		},
	})

	// The routines are listed without dependencies only to build the
	// subcommands; each run rebuilds them against the database.
	for _, r := range routineRegistry(routine.Deps{}).List() {
		cmd.AddCommand(routineCmd(r))
	}
	return cmd
}

func routineRegistry(deps routine.Deps) *engine.Registry {
	reg := engine.NewRegistry()
	reg.MustRegister(routine.All(deps)...)
	return reg
}

func listRoutines(cmd *cobra.Command, routines []*engine.Routine) {
	names := make([]string, len(routines))
	tables := make([]string, len(routines))
	for i, r := range routines {
		names[i] = r.Name
		tables[i] = string(r.Table)
	}
	widths := []int{columnWidth(names), columnWidth(tables), 6}
	for _, r := range routines {
		printRow(cmd, widths, r.Name, string(r.Table), "r"+strconv.Itoa(r.Revision), r.Description)
	}
}

func routineCmd(r *engine.Routine) *cobra.Command {
	cmd := &cobra.Command{
		Use:   r.Name,
		Short: r.Description,
		Long: fmt.Sprintf("%s.\n\nProcesses receiving.%s documents not yet handled by %s.",
			r.Description, r.Table, r.Tag()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutine(cmd, r.Name)
		},
	}
	addActionFlags(cmd)
	cmd.Flags().Int("limit", 0, "Process at most this many documents")
	cmd.Flags().Bool("skip-locked", false, "Skip documents locked by a concurrent run instead of waiting")
	return cmd
}

func runRoutine(cmd *cobra.Command, name string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := routine.Deps{
		Identifiers: a.identifiers(),
		Warehouse:   warehouse.NewService(warehouse.NewRepo(a.pool), a.logger),
		Logger:      a.logger,
	}
	r, err := routineRegistry(deps).Get(name)
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	skipLocked, _ := cmd.Flags().GetBool("skip-locked")

	eng := engine.New(receiving.NewRepo(a.pool), a.logger)
	eng.SetMetrics(a.metrics.Engine)

	return a.sessions(cmd).Run(cmd.Context(), actionFromFlags(cmd), func(ctx context.Context) error {
		tx, err := db.RequireTx(ctx)
		if err != nil {
			return err
		}
		_, err = eng.Run(ctx, tx, r, engine.Options{Limit: limit, SkipLocked: skipLocked})
		return err
	})
}
