package config

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// hashConfig fingerprints the decoded config so a rewrite that changes only
// formatting or comments is not published as a reload. 0 means "unknown".
func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	return xxhash.Sum64(b)
}
