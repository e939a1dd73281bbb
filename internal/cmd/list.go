package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/UniQw/taskq"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted tasks",
	Long: `List prints the tasks stored by the configured backend, oldest first.
Tasks restored this way have no processor; use dismiss to clean them up.`,
	RunE: runList,
}

var (
	listStatus string
	listJSON   bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listStatus, "status", "", "only show tasks in this status")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print tasks as JSON")
}

func runList(cmd *cobra.Command, _ []string) error {
	var want taskq.Status
	if listStatus != "" {
		s, err := taskq.ParseStatus(listStatus)
		if err != nil {
			return err
		}
		want = s
	}
	store, cleanup, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	tasks := make([]*taskq.Task, 0)
	for _, t := range store.GetAll() {
		if want == "" || t.Status == want {
			tasks = append(tasks, t)
		}
	}
	out := cmd.OutOrStdout()
	if listJSON {
		b, err := sonic.ConfigStd.MarshalIndent(tasks, "", "  ")
		if err != nil {
			return fmt.Errorf("encode tasks: %w", err)
		}
		_, err = fmt.Fprintln(out, string(b))
		return err
	}
	return printTasks(out, tasks)
}

func printTasks(w io.Writer, tasks []*taskq.Task) error {
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("no tasks"))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tRETRIES\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.ID, statusText(t.Status), progress(t), t.RetryCount, t.Title)
		for _, f := range t.FailedItems {
			label := f.ID
			if label == "" {
				label = "-"
			}
			fmt.Fprintf(tw, "\t\t%s\t\t%s\n", failStyle.Render(label), f.Message)
		}
	}
	return tw.Flush()
}

func progress(t *taskq.Task) string {
	if t.Total == 0 {
		return "-"
	}
	if t.Failed > 0 {
		return fmt.Sprintf("%d/%d (%d failed)", t.Completed, t.Total, t.Failed)
	}
	return fmt.Sprintf("%d/%d", t.Completed, t.Total)
}
