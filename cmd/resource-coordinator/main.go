// Точка входа Resource Coordinator — координатора ресурсов участников
// (хранилище, вычисления, трафик) и расчёта вознаграждений.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/config"
)

var rootCmd = &cobra.Command{
	Use:     "resource-coordinator",
	Short:   "Координатор ресурсов участников сети",
	Version: config.Version,
	// Без подкоманды запускается сервер
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
