package reporting

import (
	"commhub/internal/audit"

	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Service, error) {
		return NewService(do.MustInvoke[audit.Reader](i)), nil
	})
}
