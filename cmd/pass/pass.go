// Package pass implements the command that runs one scrape pass over a
// normalized listing batch produced by the external scraper.
package pass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/dedup"
	"github.com/tphakala/autoscout-go/internal/matcher"
	"github.com/tphakala/autoscout-go/internal/notify"
	"github.com/tphakala/autoscout-go/internal/observability"
	"github.com/tphakala/autoscout-go/internal/pipeline"
)

// listingInput is the scraper's normalized listing contract.
type listingInput struct {
	SourceSite   string   `json:"source_site"`
	ExternalID   string   `json:"external_id"`
	URL          string   `json:"url"`
	Make         string   `json:"make"`
	Model        string   `json:"model"`
	Year         int      `json:"year"`
	Price        int64    `json:"price"`
	Currency     string   `json:"currency"`
	Mileage      int      `json:"mileage"`
	FuelType     string   `json:"fuel_type"`
	Transmission string   `json:"transmission"`
	BodyType     string   `json:"body_type"`
	Condition    string   `json:"condition"`
	City         string   `json:"city"`
	Region       string   `json:"region"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	EnginePower  int      `json:"engine_power"`
}

func (in *listingInput) toListing() datastore.Listing {
	return datastore.Listing{
		SourceSite:   in.SourceSite,
		ExternalID:   in.ExternalID,
		URL:          in.URL,
		Make:         in.Make,
		Model:        in.Model,
		Year:         in.Year,
		Price:        in.Price,
		Currency:     in.Currency,
		Mileage:      in.Mileage,
		FuelType:     in.FuelType,
		Transmission: in.Transmission,
		BodyType:     in.BodyType,
		Condition:    in.Condition,
		City:         in.City,
		Region:       in.Region,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		EnginePower:  in.EnginePower,
	}
}

// Command creates the pass command.
func Command(settings *conf.Settings) *cobra.Command {
	var inputPath, citiesPath string

	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run one scrape pass over a listing batch",
		Long:  "Reads a JSON array of normalized listings, classifies each against stored state, matches new and updated listings against active alerts and emits throttled notifications.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(cmd.Context(), settings, inputPath, citiesPath)
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "-", "Path to the listings JSON file, or - for stdin")
	cmd.Flags().StringVar(&citiesPath, "cities", "", "Path to a JSON city coordinate table for radius matching")
	return cmd
}

// newResolver builds the radius-matching resolver from an optional city
// table. Without a table radius criteria fall back to city equality.
func newResolver(settings *conf.Settings, citiesPath string) (matcher.GeoResolver, error) {
	if citiesPath == "" {
		return nil, nil
	}
	table, err := matcher.LoadCityTable(citiesPath)
	if err != nil {
		return nil, err
	}
	return matcher.NewCachingResolver(table, settings.Matcher.GeoCacheTTL), nil
}

func runPass(ctx context.Context, settings *conf.Settings, inputPath, citiesPath string) error {
	listings, err := readListings(inputPath)
	if err != nil {
		return err
	}

	resolver, err := newResolver(settings, citiesPath)
	if err != nil {
		return err
	}

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}
	defer store.Close()

	obs, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	engine := dedup.NewEngine(store, settings.Dedup, obs.Dedup)
	lm := matcher.NewLinearMatcher(resolver, obs.Matcher)
	throttler := notify.NewThrottler(store, settings.Notify, nil, obs.Notify)
	runner := pipeline.NewRunner(store, engine, lm, throttler, settings.Pipeline)

	if settings.Pipeline.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Pipeline.PassTimeout)
		defer cancel()
	}

	report, err := runner.RunPass(ctx, listings)
	if err != nil {
		return fmt.Errorf("pass failed: %w", err)
	}

	fmt.Printf("pass %s completed in %s: %d listings (%d new, %d updated, %d unchanged, %d rejected), %d matches, %d notifications, %d digests, %d swept\n",
		report.PassID, report.Duration.Round(1e6), report.Listings,
		report.New, report.Updated, report.Unchanged, report.Rejected,
		report.Matches, report.Emitted, report.Digests, report.Swept)
	return nil
}

func readListings(path string) ([]datastore.Listing, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		reader = f
	}

	var inputs []listingInput
	if err := json.NewDecoder(reader).Decode(&inputs); err != nil {
		return nil, fmt.Errorf("failed to decode listings: %w", err)
	}

	listings := make([]datastore.Listing, 0, len(inputs))
	for i := range inputs {
		listings = append(listings, inputs[i].toListing())
	}
	return listings, nil
}
