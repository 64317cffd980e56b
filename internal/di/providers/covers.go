package providers

import (
	"github.com/samber/do/v2"

	"github.com/readtrailapp/readtrail-server/internal/config"
	"github.com/readtrailapp/readtrail-server/internal/covers"
	"github.com/readtrailapp/readtrail-server/internal/ingest"
	"github.com/readtrailapp/readtrail-server/internal/logger"
)

// ProvideCoverResolver provides the Open Library cover client, or a noop
// resolver when lookups are disabled.
func ProvideCoverResolver(i do.Injector) (ingest.CoverResolver, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Covers.Enabled {
		log.Info("Cover lookups disabled")
		return ingest.NoopCoverResolver{}, nil
	}

	return covers.NewClient(cfg.Covers.BaseURL, log.Logger), nil
}
