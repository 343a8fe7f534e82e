package config

import "time"

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	ClientURL   string `yaml:"client_url"`
}

// GatewayConfig holds the redirect payment gateway credentials and protocol
// knobs.
type GatewayConfig struct {
	PayURL        string        `yaml:"pay_url"`
	APIURL        string        `yaml:"api_url"`
	TmnCode       string        `yaml:"tmn_code"`
	HashSecret    string        `yaml:"hash_secret"`
	HashAlgo      string        `yaml:"hash_algo"`
	EncodeMode    string        `yaml:"encode_mode"`
	ReturnURL     string        `yaml:"return_url"`
	Locale        string        `yaml:"locale"`
	OrderType     string        `yaml:"order_type"`
	CurrencyCode  string        `yaml:"currency_code"`
	ExpireMinutes int           `yaml:"expire_minutes"`
	Timeout       time.Duration `yaml:"timeout"`
	TimeZone      string        `yaml:"time_zone"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SchedulerConfig holds the background worker schedules.
type SchedulerConfig struct {
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Renewal    RenewalConfig    `yaml:"renewal"`
}

type ReconcilerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	ExpireAfter    time.Duration `yaml:"expire_after"`
	QueryCooldown  time.Duration `yaml:"query_cooldown"`
	ResultCacheTTL time.Duration `yaml:"result_cache_ttl"`
	SuppressionTTL time.Duration `yaml:"suppression_ttl"`
	BatchLimit     int           `yaml:"batch_limit"`
}

type RenewalConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Retry1Delay time.Duration `yaml:"retry1_delay"`
	Retry2Delay time.Duration `yaml:"retry2_delay"`
	BatchLimit  int           `yaml:"batch_limit"`
}
