package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

func (s *source) duration(envVar string, defaultValue time.Duration) time.Duration {
	raw := s.get(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("var", envVar).Str("value", raw).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

func (s *source) boolean(envVar string, defaultValue bool) bool {
	raw := s.get(envVar, "")
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warn().Str("var", envVar).Str("value", raw).Msg("invalid bool, using default")
		return defaultValue
	}
	return b
}

func (s *source) integer(envVar string, defaultValue int) int {
	raw := s.get(envVar, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("var", envVar).Str("value", raw).Msg("invalid integer, using default")
		return defaultValue
	}
	return n
}

func (s *source) list(envVar string, defaultValue []string) []string {
	raw := s.get(envVar, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
