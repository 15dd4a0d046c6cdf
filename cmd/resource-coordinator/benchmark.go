package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/probe"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Замерить вычислительный бенчмарк и скорость канала узла",
	Long: "Выполняет хэш-бенчмарк заданной длительности и speed-пробу.\n" +
		"Без --endpoint проба идёт через локальный канал узла.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if duration <= 0 {
			return fmt.Errorf("--duration должен быть положительным: %s", duration)
		}

		score, err := probe.NewHashBenchmark(duration).Benchmark(cmd.Context())
		if err != nil {
			return fmt.Errorf("бенчмарк: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "benchmark_score: %.2f\n", score)

		target := probe.Target{ParticipantID: "local", Endpoint: endpoint}
		speed, err := probe.NewStreamSpeedProbe(timeout).MeasureSpeed(cmd.Context(), target)
		if err != nil {
			return fmt.Errorf("speed-проба: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "upload_mbps: %.2f\ndownload_mbps: %.2f\n", speed.UploadMbps, speed.DownloadMbps)

		if endpoint != "" {
			rtt, err := probe.NewTCPPinger(timeout).Ping(cmd.Context(), target)
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "latency: %s\n", rtt)
		}
		return nil
	},
}

func init() {
	benchmarkCmd.Flags().Duration("duration", 100*time.Millisecond, "Длительность хэш-бенчмарка")
	benchmarkCmd.Flags().String("endpoint", "", "Адрес host:port участника для speed-пробы и ping")
	benchmarkCmd.Flags().Duration("timeout", 5*time.Second, "Таймаут сетевых проб")
	rootCmd.AddCommand(benchmarkCmd)
}
