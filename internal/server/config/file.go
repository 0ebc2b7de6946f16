package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/loancollect/internal/timex"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape. It uses timex.Duration for durations,
// which accepts both "1h" style strings and integer nanoseconds.
type fileConfig struct {
	EndpointAddrGRPC            *string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	EndpointAddrHTTP            *string         `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	DatabaseDSN                 *string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey                   *string         `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
}

// parseFile overlays the keys present in the file at path onto cfg.
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

	if fc.EndpointAddrGRPC != nil {
		cfg.EndpointAddrGRPC = *fc.EndpointAddrGRPC
	}
	if fc.EndpointAddrHTTP != nil {
		cfg.EndpointAddrHTTP = *fc.EndpointAddrHTTP
	}
	if fc.DatabaseDSN != nil {
		cfg.DatabaseDSN = *fc.DatabaseDSN
	}
	if fc.SecretKey != nil {
		cfg.SecretKey = *fc.SecretKey
	}
	if fc.AccessTokenValidityDuration != nil {
		cfg.AccessTokenValidityDuration = fc.AccessTokenValidityDuration.Duration
	}
	return nil
}
