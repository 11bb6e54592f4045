// Package testalert implements the alert dry-run command: evaluate one
// stored alert against the recent listing window without persisting
// notifications.
package testalert

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/matcher"
)

// Command creates the testalert command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		alertID    uint
		window     time.Duration
		asJSON     bool
		citiesPath string
	)

	cmd := &cobra.Command{
		Use:   "testalert",
		Short: "Dry-run an alert against recently seen listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := datastore.New(settings)
			if store == nil {
				return fmt.Errorf("no database backend enabled")
			}
			if err := store.Open(); err != nil {
				return fmt.Errorf("failed to open datastore: %w", err)
			}
			defer store.Close()

			alert, err := store.GetAlert(alertID)
			if err != nil {
				return err
			}

			var resolver matcher.GeoResolver
			if citiesPath != "" {
				table, err := matcher.LoadCityTable(citiesPath)
				if err != nil {
					return err
				}
				resolver = matcher.NewCachingResolver(table, settings.Matcher.GeoCacheTTL)
			}

			matched, err := matcher.TestAlert(cmd.Context(), store, alert, window, resolver)
			if err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(matched)
			}
			fmt.Printf("alert %d (%s): %d matching listings in the last %s\n",
				alert.ID, alert.Name, len(matched), window)
			for i := range matched {
				l := &matched[i]
				fmt.Printf("  %s %s (%d), %d km, %d %s, %s\n",
					l.Make, l.Model, l.Year, l.Mileage, l.Price, l.Currency, l.URL)
			}
			return nil
		},
	}

	cmd.Flags().UintVar(&alertID, "alert", 0, "Alert ID to test")
	cmd.Flags().DurationVar(&window, "window", 30*24*time.Hour, "Historical listing window to test against")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print matches as JSON")
	cmd.Flags().StringVar(&citiesPath, "cities", "", "Path to a JSON city coordinate table for radius matching")
	_ = cmd.MarkFlagRequired("alert")
	return cmd
}
