package providers

import (
	"github.com/samber/do/v2"

	"github.com/readtrailapp/readtrail-server/internal/ingest"
	"github.com/readtrailapp/readtrail-server/internal/logger"
)

// ProvideIngestService provides the ingestion engine.
func ProvideIngestService(i do.Injector) (*ingest.Service, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	resolver := do.MustInvoke[ingest.CoverResolver](i)
	log := do.MustInvoke[*logger.Logger](i)

	return ingest.NewService(storeHandle.Store, resolver, log.Logger), nil
}
