package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/timex"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape. Pointer fields tell "absent" from
// "zero", so a file only overrides the keys it sets.
type fileConfig struct {
	ServerEndpointAddr  *string         `json:"server_endpoint_addr" yaml:"server_endpoint_addr"`
	RealtimeURL         *string         `json:"realtime_url" yaml:"realtime_url"`
	DBPath              *string         `json:"db_path" yaml:"db_path"`
	BranchID            *string         `json:"branch_id" yaml:"branch_id"`
	CollectorID         *string         `json:"collector_id" yaml:"collector_id"`
	AccessToken         *string         `json:"access_token" yaml:"access_token"`
	MetricsAddr         *string         `json:"metrics_addr" yaml:"metrics_addr"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	BusyInterval        *timex.Duration `json:"busy_interval" yaml:"busy_interval"`
	IdleInterval        *timex.Duration `json:"idle_interval" yaml:"idle_interval"`
	BatchSize           *int            `json:"batch_size" yaml:"batch_size"`
	PageSize            *int            `json:"page_size" yaml:"page_size"`
	SafetyMargin        *timex.Duration `json:"safety_margin" yaml:"safety_margin"`
	PushTimeout         *timex.Duration `json:"push_timeout" yaml:"push_timeout"`
	PullTimeout         *timex.Duration `json:"pull_timeout" yaml:"pull_timeout"`
}

func parseFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.ServerEndpointAddr, fc.ServerEndpointAddr)
	setString(&cfg.RealtimeURL, fc.RealtimeURL)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.BranchID, fc.BranchID)
	setString(&cfg.CollectorID, fc.CollectorID)
	setString(&cfg.AccessToken, fc.AccessToken)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setInt(&cfg.BatchSize, fc.BatchSize)
	setInt(&cfg.PageSize, fc.PageSize)
	setDuration(&cfg.OnlineCheckInterval, fc.OnlineCheckInterval)
	setDuration(&cfg.BusyInterval, fc.BusyInterval)
	setDuration(&cfg.IdleInterval, fc.IdleInterval)
	setDuration(&cfg.SafetyMargin, fc.SafetyMargin)
	setDuration(&cfg.PushTimeout, fc.PushTimeout)
	setDuration(&cfg.PullTimeout, fc.PullTimeout)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
