package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog/log"
)

const generatedAdminTokenBytes = 32

// InitialiseSystem makes sure a signing key exists and an admin token is
// available before the first request is served. A generated admin token is
// only printed once and is not persisted.
func (s *Server) InitialiseSystem(ctx context.Context) error {
	kp, err := s.deps.Keys.Current(ctx)
	if err != nil {
		return fmt.Errorf("[Server InitialiseSystem] failed to load signing key: %w", err)
	}

	s.adminToken = s.config.GetAdminToken()
	generated := false
	if s.adminToken == "" {
		s.adminToken, err = generateAdminToken()
		if err != nil {
			return fmt.Errorf("[Server InitialiseSystem] failed to generate admin token: %w", err)
		}
		generated = true
	}

	log.Info().
		Str("issuer", s.deps.Codec.Issuer()).
		Str("kid", kp.KeyID).
		Str("baseURL", s.config.GetBaseURL()).
		Msg("system initialised")

	if generated {
		log.Warn().Msg("ADMIN_TOKEN not set, generated a temporary admin token for this process")
		log.Warn().Msgf("   Admin token: %s", s.adminToken)
		log.Warn().Msg("   SAVE THIS TOKEN - it will not be displayed again!")
	}
	return nil
}

func generateAdminToken() (string, error) {
	b := make([]byte, generatedAdminTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
