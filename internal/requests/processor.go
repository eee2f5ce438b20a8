package requests

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor is the built-in worker: it periodically scans open
// requests and executes the eligible ones, earning the incentive for
// its configured account. Any external caller can do the same through
// the execute endpoint.
type Processor struct {
	service       *Service
	workerAccount string
	processDelay  time.Duration
}

// NewProcessor returns a processor executing for workerAccount every
// processDelay.
func NewProcessor(service *Service, workerAccount string, processDelay time.Duration) *Processor {
	return &Processor{
		service:       service,
		workerAccount: workerAccount,
		processDelay:  processDelay,
	}
}

// Start begins the execution loop and blocks until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "request_processor").Logger()
	logger.Info().Str("worker", p.workerAccount).Msg("starting request processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down request processor")
			return
		case <-ticker.C:
			if err := p.processOpenRequests(); err != nil {
				logger.Error().Err(err).Msg("failed to process open requests")
			}
		}
	}
}

func (p *Processor) processOpenRequests() error {
	logger := log.With().Str("component", "request_processor").Logger()

	open, err := p.service.db.ListOpenRequests()
	if err != nil {
		return err
	}
	logger.Debug().Int("open_count", len(open)).Msg("scanning open requests")

	for i := range open {
		request := &open[i]
		eligible, err := p.service.Eligible(request)
		if err != nil {
			logger.Error().Err(err).Str("request_id", request.RequestID).Msg("eligibility check failed")
			continue
		}
		if !eligible {
			continue
		}
		result, err := p.service.ExecuteRequest(request.RequestID, p.workerAccount)
		if err != nil {
			// Another worker may have raced us to it.
			if errors.Is(err, ErrRequestNotOpen) {
				continue
			}
			logger.Error().Err(err).Str("request_id", request.RequestID).Msg("execution failed")
			continue
		}
		logger.Info().
			Str("request_id", request.RequestID).
			Str("outcome", string(result.Outcome)).
			Msg("request processed")
	}
	return nil
}
