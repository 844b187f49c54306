package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/ipc"
	"github.com/signalcove/pixelwatch/internal/metrics"
	"github.com/signalcove/pixelwatch/internal/record"
	"github.com/signalcove/pixelwatch/internal/spool"
)

// Listener is the Worker's intake half (§4.2): it forwards IPC-delivered
// records and spool-replayed records onto a single enrichment channel.
// The channel's bounded capacity and blocking send are the backpressure
// mechanism — when the enrichment consumer falls behind, Listener blocks,
// the IPC server's own Records channel fills, and its acceptors'
// blocking sends eventually apply backpressure all the way back to Edge's
// IPC client.
type Listener struct {
	ipcServer *ipc.Server
	replayer  *spool.Replayer
	enrichCh  chan<- record.TrackingRecord
	logger    *zap.Logger
}

func NewListener(ipcServer *ipc.Server, replayer *spool.Replayer, enrichCh chan<- record.TrackingRecord, logger *zap.Logger) *Listener {
	return &Listener{
		ipcServer: ipcServer,
		replayer:  replayer,
		enrichCh:  enrichCh,
		logger:    logger,
	}
}

// Run starts the IPC server and the spool replayer and forwards both
// sources onto the enrichment channel until ctx is canceled. It blocks
// until both feeds have stopped.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.ipcServer.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		l.forwardIPC(ctx)
	}()

	go func() {
		defer wg.Done()
		if err := l.replayer.Run(ctx); err != nil {
			l.logger.Error("spool replayer stopped with error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	l.ipcServer.Stop()
	wg.Wait()
	return nil
}

func (l *Listener) forwardIPC(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-l.ipcServer.Records:
			if !ok {
				return
			}
			metrics.IPCRecordsTotal.WithLabelValues("ipc").Inc()
			select {
			case l.enrichCh <- rec:
			case <-ctx.Done():
				return
			}
		}
	}
}

// NewReplayHandler builds the spool.Handler used to feed a replayed
// record onto enrichCh. Build the spool.Replayer with this handler before
// constructing Listener, since the Replayer must exist to pass to
// NewListener.
func NewReplayHandler(enrichCh chan<- record.TrackingRecord) spool.Handler {
	return func(rec record.TrackingRecord) error {
		metrics.IPCRecordsTotal.WithLabelValues("spool_replay").Inc()
		enrichCh <- rec
		return nil
	}
}
