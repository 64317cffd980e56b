package api

import (
	"encoding/json/v2"
	"io"
	"net/http"

	"github.com/readtrailapp/readtrail-server/internal/domain"
	"github.com/readtrailapp/readtrail-server/internal/http/response"
	"github.com/readtrailapp/readtrail-server/internal/ingest"
)

const maxIngestBodyBytes = 4 << 20

func (s *Server) registerIngestRoutes() {
	// Registered on chi directly: the body is polymorphic (one event or an
	// array of events) and huma cannot describe that with a single schema.
	s.router.Post("/api/v1/ingest/events", s.handleIngestEvents)
}

// handleIngestEvents accepts a telemetry batch. Devices resend whole batches
// until they see an ack, so the response always reports counts for the
// delivery as received; replays succeed and change nothing.
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBodyBytes))
	if err != nil {
		response.BadRequest(w, "Failed to read request body", s.logger)
		return
	}
	if len(body) == 0 {
		response.BadRequest(w, "Empty request body", s.logger)
		return
	}

	var events []domain.Event
	if err := json.Unmarshal(body, &events); err != nil {
		// Not an array; try a single event object.
		var single domain.Event
		if err := json.Unmarshal(body, &single); err != nil {
			response.BadRequest(w, "Invalid request body", s.logger)
			return
		}
		events = []domain.Event{single}
	}

	if len(events) == 0 {
		response.Success(w, &ingest.BatchResult{}, s.logger)
		return
	}

	result, err := s.ingest.IngestBatch(r.Context(), events)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, result, s.logger)
}
