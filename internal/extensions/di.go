package extensions

import (
	"log/slog"

	"commhub/internal/audit"
	"commhub/internal/calls"
	"commhub/internal/sip"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		return NewManager(Deps{
			Issuer:    do.MustInvoke[*sip.Issuer](i),
			Registrar: do.MustInvoke[sip.Gateway](i),
			Calls:     do.MustInvoke[*calls.Orchestrator](i),
			Audit:     do.MustInvoke[audit.Sink](i),
			Log:       do.MustInvoke[*slog.Logger](i),
		})
	})
}
