package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/metrics"
	"github.com/signalcove/pixelwatch/internal/record"
)

// RunConsumer is the single enrichment consumer (§4.3): it reads from
// enrichmentCh until the channel is closed or ctx is canceled, runs the
// 15-step pipeline on each record, and hands the result to the writer
// channel with a non-blocking offer. A full writer channel means the
// enriched copy is dropped with a warning — the un-enriched copy already
// exists durably in the spool (§4.3.2, §7).
func RunConsumer(ctx context.Context, enrichmentCh <-chan record.TrackingRecord, writerCh chan<- record.TrackingRecord, pipeline *Pipeline, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			drainRemaining(enrichmentCh, writerCh, pipeline, logger)
			return
		case rec, ok := <-enrichmentCh:
			if !ok {
				return
			}
			metrics.EnrichmentQueueDepth.WithLabelValues().Set(float64(len(enrichmentCh)))

			enriched := pipeline.Enrich(ctx, rec)

			select {
			case writerCh <- enriched:
			default:
				metrics.WriterChannelDroppedTotal.WithLabelValues().Inc()
				logger.Warn("writer channel full, dropping enriched record",
					zap.String("company_id", enriched.CompanyID))
			}
		}
	}
}

// drainRemaining finishes whatever is already sitting in the enrichment
// channel after shutdown is signaled, rather than losing records that
// were already accepted off the wire. It never blocks: a full writer
// channel still drops with a warning, same as the steady-state path.
func drainRemaining(enrichmentCh <-chan record.TrackingRecord, writerCh chan<- record.TrackingRecord, pipeline *Pipeline, logger *zap.Logger) {
	for {
		select {
		case rec, ok := <-enrichmentCh:
			if !ok {
				return
			}
			enriched := pipeline.Enrich(context.Background(), rec)
			select {
			case writerCh <- enriched:
			default:
				metrics.WriterChannelDroppedTotal.WithLabelValues().Inc()
				logger.Warn("writer channel full during shutdown drain, dropping record")
			}
		default:
			return
		}
	}
}
