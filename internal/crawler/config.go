package crawler

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob that influences a crawl run. Values originate
// from Viper so the crawler can be configured via files, env vars, or CLI
// flags, while the struct itself stays decoupled from Viper for testing.
type Config struct {
	Target            string
	OutputPath        string
	Headless          bool
	UserAgent         string
	Date              string
	DateRange         string
	BaseURL           string
	CardsPerPage      int
	PageAttempts      int
	ClickRetries      int
	NavigateTimeout   time.Duration
	WaitTimeout       time.Duration
	DelayAfterClick   time.Duration
	DelayBetweenPages time.Duration
	StatusAddr        string
	DatabaseDSN       string
	DatabaseTable     string
}

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Target:            v.GetString("crawler.rn"),
		OutputPath:        v.GetString("crawler.out"),
		Headless:          v.GetBool("crawler.headless"),
		UserAgent:         v.GetString("crawler.user_agent"),
		Date:              v.GetString("crawler.date"),
		DateRange:         v.GetString("crawler.date_range"),
		BaseURL:           v.GetString("crawler.base_url"),
		CardsPerPage:      v.GetInt("crawler.cards_per_page"),
		PageAttempts:      v.GetInt("crawler.page_attempts"),
		ClickRetries:      v.GetInt("crawler.click_retries"),
		NavigateTimeout:   v.GetDuration("crawler.navigate_timeout"),
		WaitTimeout:       v.GetDuration("crawler.wait_timeout"),
		DelayAfterClick:   v.GetDuration("crawler.delay_after_click"),
		DelayBetweenPages: v.GetDuration("crawler.delay_between_pages"),
		StatusAddr:        v.GetString("server.status_addr"),
		DatabaseDSN:       v.GetString("database.dsn"),
		DatabaseTable:     v.GetString("database.table"),
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("crawler.rn must be set")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("crawler.out must be set")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("crawler.base_url must be set")
	}
	if c.CardsPerPage <= 0 {
		return fmt.Errorf("crawler.cards_per_page must be > 0")
	}
	if c.PageAttempts <= 0 {
		return fmt.Errorf("crawler.page_attempts must be > 0")
	}
	if c.ClickRetries <= 0 {
		return fmt.Errorf("crawler.click_retries must be > 0")
	}
	if c.NavigateTimeout <= 0 {
		return fmt.Errorf("crawler.navigate_timeout must be > 0")
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("crawler.wait_timeout must be > 0")
	}
	if c.DelayAfterClick < 0 {
		return fmt.Errorf("crawler.delay_after_click must be >= 0")
	}
	if c.DelayBetweenPages < 0 {
		return fmt.Errorf("crawler.delay_between_pages must be >= 0")
	}
	return nil
}
