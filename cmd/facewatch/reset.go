package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset learned thresholds and statistics",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(_ *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	controller, err := loadController(settings)
	if err != nil {
		return err
	}
	controller.Reset()
	if err := controller.Save(settings.Learning.StatePath); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"path":      settings.Learning.StatePath,
		"threshold": controller.GlobalThreshold(),
	}).Infof("reset: learning state cleared")
	return nil
}
