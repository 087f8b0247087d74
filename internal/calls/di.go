package calls

import (
	"log/slog"

	"commhub/internal/audit"
	"commhub/internal/config"
	"commhub/internal/sip"
	"commhub/internal/telephony"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (Limiter, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.Calls.MaxConcurrentPerOwner <= 0 {
			return nil, nil
		}
		return NewRedisLimiter(do.MustInvoke[*redis.Client](i), cfg.Calls.MaxConcurrentPerOwner, cfg.Calls.ConcurrencyTTL)
	})
	do.Provide(injector, func(i do.Injector) (*Orchestrator, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewOrchestrator(Deps{
			Issuer:    do.MustInvoke[*sip.Issuer](i),
			Registrar: do.MustInvoke[sip.Gateway](i),
			Provider:  do.MustInvoke[telephony.PSTNProvider](i),
			Audit:     do.MustInvoke[audit.Sink](i),
			Limiter:   do.MustInvoke[Limiter](i),
			Log:       do.MustInvoke[*slog.Logger](i),
			Grace:     cfg.Calls.PurgeGrace,
		})
	})
}
