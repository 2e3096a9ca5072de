package binance

import (
	"strings"
	"time"
)

// Config 是 Binance 现货行情源的连接参数。
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string

	HTTPTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.APISecret = strings.TrimSpace(out.APISecret)
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	return out
}
