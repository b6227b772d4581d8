package main

import (
	"fmt"
	"os"

	"github.com/LdDl/facewatch/config"
	"github.com/LdDl/facewatch/learning"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "facewatch",
	Short: "Entrance face watcher with self-tuning recognition thresholds",
	Long: `facewatch tracks faces across frames, locks identities after a few
consistent frames, welcomes known people, alerts on strangers who stay too
long and tunes its acceptance thresholds from operator feedback.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

func initConfig() {
	// .env file is optional
	_ = godotenv.Load()
}

// loadSettings reads configuration and applies logging settings to the standard logger
func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		settings.Log.Level = logLevel
	}
	if err := settings.Log.Apply(logrus.StandardLogger()); err != nil {
		return nil, err
	}
	return settings, nil
}

func controllerConfig(l config.LearningSettings) learning.Config {
	return learning.Config{
		LearningRate:     l.LearningRate,
		MinThreshold:     l.MinThreshold,
		MaxThreshold:     l.MaxThreshold,
		InitialThreshold: l.InitialThreshold,
		MaxPending:       l.MaxPending,
		RecentWindow:     l.RecentWindow,
	}
}

// loadController creates controller and restores its state. Missing state file starts fresh.
func loadController(settings *config.Settings) (*learning.Controller, error) {
	controller := learning.NewController(controllerConfig(settings.Learning))
	if err := controller.Load(settings.Learning.StatePath); err != nil {
		return nil, errors.Wrapf(err, "Can't load learning state from %s", settings.Learning.StatePath)
	}
	return controller, nil
}
