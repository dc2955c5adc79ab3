package cli

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Fabrica/internal/engine"
)

// NewPlanCmd создаёт команду plan.
func NewPlanCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate and inspect design plans",
	}

	cmd.AddCommand(newPlanValidateCmd(outputFn))
	cmd.AddCommand(newPlanShowCmd(outputFn))

	return cmd
}

// loadPlanDir загружает план из каталога с design_context.json и dag.json.
func loadPlanDir(dir string) (*engine.Plan, error) {
	return engine.LoadPlan(
		filepath.Join(dir, "design_context.json"),
		filepath.Join(dir, "dag.json"),
	)
}

func newPlanValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-dir>",
		Short: "Validate design_context.json and dag.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlanDir(args[0])
			if err != nil {
				return fmt.Errorf("plan invalid: %w", err)
			}

			out := outputFn()
			out.Message("plan valid: %d nodes, hash %s", plan.Graph.Size(), plan.Design.DesignContextHash)
			return nil
		},
	}
}

func newPlanShowCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-dir>",
		Short: "Show the nodes of a design plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlanDir(args[0])
			if err != nil {
				return err
			}

			headers := []string{"NODE", "KIND", "DEPS", "SIGNALS", "RTL"}
			var rows [][]string
			for _, id := range plan.Graph.Order {
				node := plan.Graph.Nodes[id]
				design := plan.Design.Nodes[id]
				rows = append(rows, []string{
					id,
					node.ModuleKind,
					strconv.Itoa(len(node.Deps)),
					strconv.Itoa(len(design.Interface.Signals)),
					design.RTLFile,
				})
			}

			outputFn().Print(headers, rows, plan)
			return nil
		},
	}
}
