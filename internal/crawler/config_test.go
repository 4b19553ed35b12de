package crawler

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viperWithDefaults() *viper.Viper {
	v := viper.New()
	v.Set("crawler.rn", "12345-06")
	v.Set("crawler.out", "out.csv")
	v.Set("crawler.base_url", "https://all-pribors.ru/verification-results")
	v.Set("crawler.cards_per_page", 20)
	v.Set("crawler.page_attempts", 3)
	v.Set("crawler.click_retries", 3)
	v.Set("crawler.navigate_timeout", "30s")
	v.Set("crawler.wait_timeout", "7s")
	v.Set("crawler.delay_after_click", "2s")
	v.Set("crawler.delay_between_pages", "2s")
	return v
}

func TestLoadConfig(t *testing.T) {
	v := viperWithDefaults()
	v.Set("crawler.date_range", "2024-03-01:2024-03-05")
	v.Set("database.dsn", "postgres://localhost/collect")
	v.Set("database.table", "device_records")

	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "12345-06", cfg.Target)
	assert.Equal(t, 20, cfg.CardsPerPage)
	assert.Equal(t, 30*time.Second, cfg.NavigateTimeout)
	assert.Equal(t, "2024-03-01:2024-03-05", cfg.DateRange)
	assert.Equal(t, "postgres://localhost/collect", cfg.DatabaseDSN)
}

func TestLoadConfigMissingTarget(t *testing.T) {
	v := viperWithDefaults()
	v.Set("crawler.rn", "")

	_, err := LoadConfig(v)
	assert.ErrorContains(t, err, "crawler.rn")
}

func TestConfigValidate(t *testing.T) {
	base, err := LoadConfig(viperWithDefaults())
	require.NoError(t, err)

	broken := base
	broken.CardsPerPage = 0
	assert.Error(t, broken.Validate())

	broken = base
	broken.PageAttempts = 0
	assert.Error(t, broken.Validate())

	broken = base
	broken.NavigateTimeout = 0
	assert.Error(t, broken.Validate())

	broken = base
	broken.DelayAfterClick = -time.Second
	assert.Error(t, broken.Validate())
}
