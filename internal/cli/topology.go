package cli

import (
	"github.com/spf13/cobra"

	"github.com/shaiso/Fabrica/internal/mq"
)

// NewTopologyCmd создаёт команду topology.
func NewTopologyCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the broker topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFn().Message("%s", mq.TopologyInfo())
			return nil
		},
	}
}
