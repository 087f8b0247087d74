package routing

import (
	"commhub/internal/audit"
	"commhub/internal/extensions"
	"commhub/internal/telephony"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*MemoryOverrideStore, error) {
		return NewMemoryOverrideStore(), nil
	})
	do.Provide(injector, func(i do.Injector) (telephony.InboundRouter, error) {
		sink := do.MustInvoke[audit.Sink](i)
		overrides := NewAdminOverrideEngine(do.MustInvoke[*MemoryOverrideStore](i), sink)
		engine := NewRoutingEngine(do.MustInvoke[*extensions.Manager](i), overrides)
		return NewEngineAdapter(engine, sink), nil
	})
}
