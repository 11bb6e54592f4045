package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tphakala/autoscout-go/cmd/pass"
	"github.com/tphakala/autoscout-go/cmd/sweep"
	"github.com/tphakala/autoscout-go/cmd/testalert"
	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/logging"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if settings.Main.Log.Enabled {
		rotation := logging.FileRotation{
			Mode:      settings.Main.Log.Rotation,
			MaxSizeMB: int(settings.Main.Log.MaxSize / (1024 * 1024)),
		}
		fileLogger, closeLog, err := logging.NewFileLogger(settings.Main.Log.Path, "main", defaultFileLogLevel(settings), rotation)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening main log: %v\n", err)
		} else {
			defer func() { _ = closeLog() }()
			fileLogger.Info("autoscout starting", "node", settings.Main.Name)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "autoscout",
		Short: "Auto Scouter vehicle listing pipeline",
		Long:  "Aggregates scraped vehicle listings, matches them against user alerts and emits throttled notifications.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if settings.Debug {
				logging.SetLevel(slog.LevelDebug)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&settings.Debug, "debug", viper.GetBool("debug"), "Enable debug output")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "error binding flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(
		pass.Command(settings),
		testalert.Command(settings),
		sweep.Command(settings),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultFileLogLevel(settings *conf.Settings) slog.Level {
	if settings.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
