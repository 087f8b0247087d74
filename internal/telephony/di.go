package telephony

import (
	"commhub/internal/config"

	"github.com/samber/do/v2"
)

// RegisterDI provides the PSTN provider. It resolves to nil when Twilio is
// not configured; calls then record external legs as provider errors.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (PSTNProvider, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.TwilioEnabled() {
			return nil, nil
		}
		return NewTwilioProvider(TwilioConfig{
			AccountSID:    cfg.Twilio.AccountSID,
			AuthToken:     cfg.Twilio.AuthToken,
			CallerID:      cfg.Twilio.CallerID,
			PublicBaseURL: cfg.App.PublicBaseURL,
		}, nil)
	})
}
