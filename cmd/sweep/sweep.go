// Package sweep implements the standalone inactive sweep: mark active
// listings not seen within the grace window as inactive.
package sweep

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/dedup"
)

// Command creates the sweep command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark stale listings inactive",
		Long:  "Marks active listings whose last sighting predates the configured grace window as inactive. Runs automatically after each pass; this command runs it standalone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := datastore.New(settings)
			if store == nil {
				return fmt.Errorf("no database backend enabled")
			}
			if err := store.Open(); err != nil {
				return fmt.Errorf("failed to open datastore: %w", err)
			}
			defer store.Close()

			engine := dedup.NewEngine(store, settings.Dedup, nil)
			swept, err := engine.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d listings marked inactive\n", swept)
			return nil
		},
	}
}
