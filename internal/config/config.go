// Package config loads the process-wide ceilings a deployment uses to
// bound every crawl job regardless of what an individual job requests.
// These are read once at process start via viper's environment binding
// and never reloaded mid-job.
package config

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/brackishlabs/burr/internal/crawl"
)

// RuntimeConfig holds the named CRAWL_* environment ceilings plus the
// store's root directory.
type RuntimeConfig struct {
	MaxConcurrency       int
	DefaultRatePerDomain float64
	HardPageLimit        int
	HardDurationSec      int
	EnableAssetCapture   bool
	UserDataDir          string
}

// Load reads RuntimeConfig from the environment. Every field has a
// sane default so a deployment that sets none of the CRAWL_* variables
// still gets a usable ceiling rather than an unbounded one.
func Load() (*RuntimeConfig, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("CRAWL_MAX_CONCURRENCY", 10)
	v.SetDefault("CRAWL_DEFAULT_RATE_PER_DOMAIN", 2.0)
	v.SetDefault("CRAWL_HARD_PAGE_LIMIT", 5000)
	v.SetDefault("CRAWL_HARD_DURATION_SEC", 3600)
	v.SetDefault("CRAWL_ENABLE_ASSET_CAPTURE", true)
	v.SetDefault("USER_DATA_DIR", "")

	for _, key := range []string{
		"CRAWL_MAX_CONCURRENCY",
		"CRAWL_DEFAULT_RATE_PER_DOMAIN",
		"CRAWL_HARD_PAGE_LIMIT",
		"CRAWL_HARD_DURATION_SEC",
		"CRAWL_ENABLE_ASSET_CAPTURE",
		"USER_DATA_DIR",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	return &RuntimeConfig{
		MaxConcurrency:       v.GetInt("CRAWL_MAX_CONCURRENCY"),
		DefaultRatePerDomain: v.GetFloat64("CRAWL_DEFAULT_RATE_PER_DOMAIN"),
		HardPageLimit:        v.GetInt("CRAWL_HARD_PAGE_LIMIT"),
		HardDurationSec:      v.GetInt("CRAWL_HARD_DURATION_SEC"),
		EnableAssetCapture:   v.GetBool("CRAWL_ENABLE_ASSET_CAPTURE"),
		UserDataDir:          v.GetString("USER_DATA_DIR"),
	}, nil
}

// ApplyCeilings tightens params to the process ceilings wherever a job
// requested something looser; it never loosens a job's own, stricter
// request.
func (c *RuntimeConfig) ApplyCeilings(params *crawl.CrawlParams) {
	if c.MaxConcurrency > 0 && (params.Concurrency <= 0 || params.Concurrency > c.MaxConcurrency) {
		params.Concurrency = c.MaxConcurrency
	}
	if c.HardPageLimit > 0 && (params.MaxPages <= 0 || params.MaxPages > c.HardPageLimit) {
		params.MaxPages = c.HardPageLimit
	}
	if c.HardDurationSec > 0 && (params.MaxDurationSec <= 0 || params.MaxDurationSec > c.HardDurationSec) {
		params.MaxDurationSec = c.HardDurationSec
	}
	if !c.EnableAssetCapture {
		params.CaptureAssets = false
	}
}

// StoreRoot resolves the on-disk job store root: USER_DATA_DIR/crawls
// when set, otherwise a relative "./crawls" for local use.
func (c *RuntimeConfig) StoreRoot() string {
	if c.UserDataDir != "" {
		return filepath.Join(c.UserDataDir, "crawls")
	}
	return "crawls"
}
