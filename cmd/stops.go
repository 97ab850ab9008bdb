package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var stopsCmd = &cobra.Command{
	Use:   "stops <lat> <lng> [k]",
	Short: "Lists the stops nearest a geographical location",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  stops,
}

func init() {
	rootCmd.AddCommand(stopsCmd)
}

func stops(cmd *cobra.Command, args []string) error {
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid lat: %w", err)
	}
	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid lng: %w", err)
	}
	k := 1
	if len(args) == 3 {
		k, err = strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid k: %w", err)
		}
	}

	static, done, err := loadStatic()
	if err != nil {
		return err
	}
	defer done()

	stops, err := static.NearestStops(cmd.Context(), lat, lng, k)
	if err != nil {
		return err
	}

	for _, sd := range stops {
		fmt.Printf("%s: %s (%.6f, %.6f) %.0fm\n", sd.Stop.ID, sd.Stop.Name, sd.Stop.Lat, sd.Stop.Lon, sd.DistanceMeters)
	}

	return nil
}
