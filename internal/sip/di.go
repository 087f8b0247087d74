package sip

import (
	"log/slog"

	"commhub/internal/audit"
	"commhub/internal/config"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Issuer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewIssuer(cfg.Registrar.Domain), nil
	})
	do.Provide(injector, func(i do.Injector) (Gateway, error) {
		cfg := do.MustInvoke[*config.Config](i)
		rc := cfg.Registrar
		return NewProcessGateway(ProcessConfig{
			Binary:         rc.Binary,
			ControlBinary:  rc.ControlBinary,
			ConfigPath:     rc.ConfigPath,
			Host:           rc.Host,
			Port:           rc.Port,
			Protocol:       rc.Protocol,
			CommandTimeout: rc.CommandTimeout,
		}, ExecRunner{}, do.MustInvoke[audit.Sink](i), do.MustInvoke[*slog.Logger](i)), nil
	})
}
