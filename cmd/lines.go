package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var linesCmd = &cobra.Command{
	Use:   "lines [query]",
	Short: "Lists lines, optionally filtered by name or ID",
	Args:  cobra.MaximumNArgs(1),
	RunE:  lines,
}

var lineCmd = &cobra.Command{
	Use:   "line <name>",
	Short: "Shows the stops along each direction of a line",
	Args:  cobra.ExactArgs(1),
	RunE:  line,
}

func init() {
	rootCmd.AddCommand(linesCmd)
	rootCmd.AddCommand(lineCmd)
}

func lines(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	static, done, err := loadStatic()
	if err != nil {
		return err
	}
	defer done()

	groups, err := static.Lines(cmd.Context(), query)
	if err != nil {
		return err
	}

	for _, g := range groups {
		ids := []string{}
		for _, l := range g.Directions {
			ids = append(ids, l.ID)
		}
		rep := g.Representative
		fmt.Printf("%s: %s [%s] %s, fare %d\n", rep.ShortName, g.Name, strings.Join(ids, ", "), rep.Category, rep.Fare)
	}

	return nil
}

func line(cmd *cobra.Command, args []string) error {
	static, done, err := loadStatic()
	if err != nil {
		return err
	}
	defer done()

	details, err := static.LineDetails(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Println(details.Name)
	for _, dir := range details.Directions {
		fmt.Printf("  %s\n", dir.Headsign)
		for i, stop := range dir.Stops {
			fmt.Printf("    %2d. %s (%s)\n", i+1, stop.Name, stop.ID)
		}
	}

	return nil
}
