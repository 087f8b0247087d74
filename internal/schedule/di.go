package schedule

import (
	"log/slog"

	"commhub/internal/audit"
	"commhub/internal/config"
	"commhub/internal/extensions"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Scheduler, error) {
		return NewScheduler(Deps{
			Extensions: do.MustInvoke[*extensions.Manager](i),
			Audit:      do.MustInvoke[audit.Sink](i),
			Log:        do.MustInvoke[*slog.Logger](i),
		})
	})
	do.Provide(injector, func(i do.Injector) (*Runner, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewRunner(do.MustInvoke[*Scheduler](i), cfg.Scheduler.Interval, do.MustInvoke[*slog.Logger](i)), nil
	})
}
