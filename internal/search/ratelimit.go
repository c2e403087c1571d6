package search

import (
	"context"

	"golang.org/x/time/rate"
)

// waitProviderRateLimit blocks until the provider's token bucket admits one call.
func (s *Service) waitProviderRateLimit(ctx context.Context, name string) error {
	if s.rps <= 0 {
		return nil
	}
	return s.providerLimiter(name).Wait(ctx)
}

func (s *Service) providerLimiter(name string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter := s.limiters[name]
	if limiter == nil {
		burst := int(s.rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.rps), burst)
		s.limiters[name] = limiter
	}
	return limiter
}
