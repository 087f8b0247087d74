package audit

import (
	"context"
	"database/sql"
	"log/slog"

	"commhub/internal/config"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.DBEnabled() {
			return NewMemoryRepo(), nil
		}
		repo := NewPostgresRepo(do.MustInvoke[*sql.DB](i))
		if err := repo.Migrate(context.Background()); err != nil {
			return nil, err
		}
		return repo, nil
	})
	do.Provide(injector, func(i do.Injector) (Reader, error) {
		repo := do.MustInvoke[Repository](i)
		if r, ok := repo.(Reader); ok {
			return r, nil
		}
		return nil, nil
	})
	do.Provide(injector, func(i do.Injector) (*AsyncSink, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)
		svc := NewService(do.MustInvoke[Repository](i), log)
		return NewAsyncSink(svc, cfg.Audit.Buffer, log), nil
	})
	do.Provide(injector, func(i do.Injector) (Sink, error) {
		return do.MustInvoke[*AsyncSink](i), nil
	})
}
