package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <line_id>",
	Short: "Lists the trips of a line with their start and end times",
	Args:  cobra.ExactArgs(1),
	RunE:  schedule,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Shows record counts and recent imports",
	Args:  cobra.NoArgs,
	RunE:  stats,
}

var runsLimit int

func init() {
	statsCmd.Flags().IntVarP(&runsLimit, "runs", "n", 5, "Number of recent imports to show")
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(statsCmd)
}

func schedule(cmd *cobra.Command, args []string) error {
	static, done, err := loadStatic()
	if err != nil {
		return err
	}
	defer done()

	trips, err := static.Schedule(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	for _, trip := range trips {
		fmt.Printf("%s %s-%s\n", trip.TripID, orDash(trip.StartTime), orDash(trip.EndTime))
	}

	return nil
}

func orDash(s string) string {
	if s == "" {
		return "--:--:--"
	}
	return s
}

func stats(cmd *cobra.Command, args []string) error {
	s, err := openStorage()
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer s.Close()

	ctx := cmd.Context()

	counts, err := s.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("stops:      %d\n", counts.Stops)
	fmt.Printf("lines:      %d\n", counts.Lines)
	fmt.Printf("trips:      %d\n", counts.Trips)
	fmt.Printf("stop_times: %d\n", counts.StopTimes)

	runs, err := s.ListImportRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Println("\nrecent imports:")
	for _, run := range runs {
		out := fmt.Sprintf("  %s %s %s stage=%s", run.StartedAt.Format("2006-01-02 15:04:05"), run.Status, run.Source, run.Stage)
		if run.Error != "" {
			out += " error=" + run.Error
		}
		fmt.Println(out)
	}

	return nil
}
