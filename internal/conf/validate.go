// conf/validate.go

package conf

import (
	"fmt"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateDedupSettings(&settings.Dedup); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateNotifySettings(&settings.Notify); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validatePipelineSettings(&settings.Pipeline); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateOutputSettings(output *OutputSettings) error {
	if output.SQLite.Enabled && output.MySQL.Enabled {
		return fmt.Errorf("only one database backend may be enabled at a time")
	}
	if !output.SQLite.Enabled && !output.MySQL.Enabled {
		return fmt.Errorf("no database backend enabled")
	}
	if output.SQLite.Enabled && output.SQLite.Path == "" {
		return fmt.Errorf("SQLite path must be set when SQLite is enabled")
	}
	if output.MySQL.Enabled {
		if output.MySQL.Host == "" || output.MySQL.Database == "" {
			return fmt.Errorf("MySQL host and database must be set when MySQL is enabled")
		}
	}
	return nil
}

func validateDedupSettings(dedup *DedupSettings) error {
	if dedup.GraceWindow <= 0 {
		return fmt.Errorf("dedup grace window must be positive")
	}
	if dedup.ConflictRetries < 0 {
		return fmt.Errorf("dedup conflict retries cannot be negative")
	}
	if dedup.MileageBucketKm <= 0 {
		return fmt.Errorf("dedup mileage bucket must be positive")
	}
	return nil
}

func validateNotifySettings(notify *NotifySettings) error {
	if notify.DefaultMaxPerDay < 0 {
		return fmt.Errorf("notify default daily cap cannot be negative")
	}
	if notify.CapWindow <= 0 {
		return fmt.Errorf("notify cap window must be positive")
	}
	if notify.DispatchPerMin <= 0 {
		return fmt.Errorf("notify dispatch rate must be positive")
	}
	return nil
}

func validatePipelineSettings(pipeline *PipelineSettings) error {
	if pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline worker count must be positive")
	}
	return nil
}
