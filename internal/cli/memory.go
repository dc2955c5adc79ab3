package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Fabrica/internal/lifecycle"
	"github.com/shaiso/Fabrica/internal/memory"
)

// NewMemoryCmd создаёт команду memory.
func NewMemoryCmd(outputFn func() *Output) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect task memory",
	}
	cmd.PersistentFlags().StringVar(&root, "root", "artifacts/task_memory", "Task memory root")

	cmd.AddCommand(&cobra.Command{
		Use:   "attempts <node-id>",
		Short: "List recorded attempts for every stage of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memory.NewStore(root)
			if err != nil {
				return err
			}
			nodeID := args[0]

			headers := []string{"STAGE", "ATTEMPT", "TASK", "RESULT", "LOG"}
			var rows [][]string
			type attemptJSON struct {
				Stage string `json:"stage"`
				memory.Attempt
			}
			var all []attemptJSON

			for _, stage := range append(lifecycle.Stages(), lifecycle.StageDebug) {
				attempts, err := store.ListAttempts(nodeID, string(stage))
				if err != nil {
					return err
				}
				for _, a := range attempts {
					rows = append(rows, []string{
						string(stage),
						strconv.Itoa(a.Attempt),
						yesNo(a.TaskPath != ""),
						yesNo(a.HasResult()),
						yesNo(a.LogPath != ""),
					})
					all = append(all, attemptJSON{Stage: string(stage), Attempt: a})
				}
			}

			outputFn().Print(headers, rows, all)
			return nil
		},
	})

	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
