package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning statistics",
	Long: `Load saved learning state and print statistics as JSON.

Example:
  facewatch stats
  facewatch stats --out reports/stats.json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().String("out", "", "Export statistics to this file instead of printing")
}

func runStats(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	controller, err := loadController(settings)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out != "" {
		if err := controller.ExportStatistics(out); err != nil {
			return err
		}
		logrus.WithField("path", out).Infof("stats: exported")
		return nil
	}

	data, err := json.MarshalIndent(controller.Statistics(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "Can't encode statistics")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
