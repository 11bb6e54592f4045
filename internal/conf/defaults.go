// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "AutoScout")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/autoscout.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "autoscout.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "autoscout")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "autoscout")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("dedup.gracewindow", 72*time.Hour)
	viper.SetDefault("dedup.conflictretries", 3)
	viper.SetDefault("dedup.mileagebucketkm", 5000)

	viper.SetDefault("matcher.geocachettl", 24*time.Hour)

	viper.SetDefault("notify.defaultmaxperday", 10)
	viper.SetDefault("notify.capwindow", 24*time.Hour)
	viper.SetDefault("notify.dispatchpermin", 60)
	viper.SetDefault("notify.dispatchburst", 10)
	viper.SetDefault("notify.lookasidettl", 30*time.Minute)
	viper.SetDefault("notify.defaultretries", 3)

	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.passtimeout", 10*time.Minute)
}
