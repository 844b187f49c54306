package edge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/ipc"
	"github.com/signalcove/pixelwatch/internal/metrics"
	"github.com/signalcove/pixelwatch/internal/record"
	"github.com/signalcove/pixelwatch/internal/spool"
)

// DirectInserter is the last-resort durability tier: a synchronous insert
// straight into the raw store, used only when both the IPC channel and the
// on-disk spool are unavailable.
type DirectInserter interface {
	InsertRaw(ctx context.Context, rec record.TrackingRecord) error
}

// Forwarder hands a tracking record off the request goroutine through the
// fastest durable path available, degrading tier by tier so a pixel
// request never blocks on a slow Worker or a full disk (§4.1.2).
type Forwarder struct {
	ipcClient *ipc.Client
	spool     *spool.Writer
	direct    DirectInserter
	logger    *zap.Logger
	timeout   time.Duration
}

// NewForwarder builds a Forwarder. direct may be nil, in which case the
// spool tier is the final fallback and a record is dropped (with a metric)
// if even that fails.
func NewForwarder(ipcClient *ipc.Client, spoolWriter *spool.Writer, direct DirectInserter, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		ipcClient: ipcClient,
		spool:     spoolWriter,
		direct:    direct,
		logger:    logger,
		timeout:   time.Second,
	}
}

// Forward attempts IPC delivery first, falls back to the spool on failure,
// and falls back to a direct insert as the last resort. It never blocks
// past its configured timeout on the direct-insert path.
func (f *Forwarder) Forward(ctx context.Context, rec record.TrackingRecord) error {
	if err := f.ipcClient.Send(rec); err == nil {
		metrics.EdgeHitsTotal.WithLabelValues(rec.CompanyID, "ipc").Inc()
		return nil
	} else {
		f.logger.Debug("ipc forward failed, falling back to spool", zap.Error(err))
		metrics.ForwardFallbacksTotal.WithLabelValues("spool").Inc()
	}

	if err := f.spool.Append(rec); err == nil {
		metrics.EdgeHitsTotal.WithLabelValues(rec.CompanyID, "spool").Inc()
		return nil
	} else {
		f.logger.Warn("spool forward failed, falling back to direct insert", zap.Error(err))
		metrics.ForwardFallbacksTotal.WithLabelValues("direct").Inc()
	}

	if f.direct == nil {
		return fmt.Errorf("ipc and spool forwarding both failed, no direct inserter configured")
	}

	dctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.direct.InsertRaw(dctx, rec); err != nil {
		return fmt.Errorf("direct insert fallback failed: %w", err)
	}
	metrics.EdgeHitsTotal.WithLabelValues(rec.CompanyID, "direct").Inc()
	return nil
}
