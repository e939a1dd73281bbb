package cmd

import (
	"errors"
	"fmt"

	"github.com/UniQw/taskq"
	"github.com/spf13/cobra"
)

var dismissCmd = &cobra.Command{
	Use:   "dismiss [id...]",
	Short: "Remove finished tasks from storage",
	Long: `Dismiss removes completed, failed or cancelled tasks from the configured
backend. Pending and running tasks are left alone. Use --all to remove every
finished task.`,
	RunE: runDismiss,
}

var dismissAll bool

func init() {
	rootCmd.AddCommand(dismissCmd)
	dismissCmd.Flags().BoolVar(&dismissAll, "all", false, "remove every finished task")
}

func runDismiss(cmd *cobra.Command, args []string) error {
	if !dismissAll && len(args) == 0 {
		return errors.New("specify task ids or --all")
	}
	store, cleanup, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ids := args
	if dismissAll {
		ids = nil
		for _, t := range store.GetAll() {
			ids = append(ids, t.ID)
		}
	}
	out := cmd.OutOrStdout()
	removed := 0
	var errs []error
	for _, id := range ids {
		err := taskq.DismissFrom(store, id)
		switch {
		case err == nil:
			removed++
		case dismissAll && errors.Is(err, taskq.ErrActiveState):
			// --all skips active tasks silently
		default:
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	fmt.Fprintf(out, "dismissed %d task(s)\n", removed)
	return errors.Join(errs...)
}
