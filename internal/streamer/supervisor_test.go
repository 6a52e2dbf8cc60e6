package streamer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n5dr/vita-streamer/internal/radioconfig"
	"github.com/n5dr/vita-streamer/internal/sdrfacade"
)

func TestSupervisorReturnsZeroOnCleanShutdown(t *testing.T) {
	facade := sdrfacade.NewSynthetic(10_000)
	snap := baseTestSnapshot()
	stream, cfg, reg := newTestWorker(t, facade, snap)

	controlConn := loopbackConn(t)
	control := &ControlWorker{Conn: controlConn, Cfg: cfg, Reg: reg, DataPort: 9999}

	sup := &Supervisor{Control: control, Stream: stream, Reg: reg, Stats: stream.Stats}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	code := sup.Run(ctx)
	require.Equal(t, 0, code)
}

func TestSupervisorReturnsTwoOnFatalStreamError(t *testing.T) {
	facade := sdrfacade.NewSynthetic(10_000)
	snap := baseTestSnapshot()
	stream, cfg, reg := newTestWorker(t, facade, snap)

	controlConn := loopbackConn(t)
	control := &ControlWorker{Conn: controlConn, Cfg: cfg, Reg: reg, DataPort: 9999}
	sup := &Supervisor{Control: control, Stream: stream, Reg: reg, Stats: stream.Stats}

	facade.FailConfigureAlways = true
	stream.Facade = failingNewBufferFacade{facade}

	bad := uint32(5_000_000)
	cfg.Apply(radioconfig.Fields{SampleRateHz: &bad})
	stream.lastConfigPoll = time.Time{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	code := sup.Run(ctx)
	require.Equal(t, 2, code)
}

// failingNewBufferFacade wraps a SyntheticFacade so NewBuffer always fails,
// forcing the stream worker's double-fault (reconfigure fails, and the
// previous buffer cannot be recreated either) fatal path.
type failingNewBufferFacade struct {
	*sdrfacade.SyntheticFacade
}

func (f failingNewBufferFacade) NewBuffer(int) error {
	return sdrfacade.ErrFatal
}
