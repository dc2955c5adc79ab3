// Fabrica CLI — инструмент командной строки для работы с планами
// и Task Memory.
//
// Использование:
//
//	fabrica [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	plan      Валидация и просмотр планов
//	memory    Просмотр Task Memory
//	topology  Печать топологии брокера
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Fabrica/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "fabrica",
		Short:         "Fabrica CLI — RTL orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewPlanCmd(outputFn),
		cli.NewMemoryCmd(outputFn),
		cli.NewTopologyCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
