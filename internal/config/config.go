// Package config initializes the application's configuration. It uses Viper
// to read settings from a config file, environment variables, and CLI flags,
// providing a unified configuration system.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// InitConfig sets defaults, search paths, and env var binding. It is called
// once at application startup so configuration is available everywhere.
func InitConfig() error {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.collectofdevices")

	viper.SetDefault("crawler.out", "output.csv")
	viper.SetDefault("crawler.headless", true)
	viper.SetDefault("crawler.base_url", "https://all-pribors.ru/verification-results")
	viper.SetDefault("crawler.user_agent", "")
	viper.SetDefault("crawler.cards_per_page", 20)
	viper.SetDefault("crawler.page_attempts", 3)
	viper.SetDefault("crawler.click_retries", 3)
	viper.SetDefault("crawler.navigate_timeout", "30s")
	viper.SetDefault("crawler.wait_timeout", "7s")
	viper.SetDefault("crawler.delay_after_click", "2s")
	viper.SetDefault("crawler.delay_between_pages", "2s")

	viper.SetDefault("server.status_addr", "")

	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.table", "device_records")

	viper.SetDefault("logging.development", false)

	viper.SetEnvPrefix("COLLECT") // e.g. COLLECT_CRAWLER_RN=91851-24
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Defaults plus env vars are a complete configuration.
			return nil
		}
		return err
	}
	return nil
}
