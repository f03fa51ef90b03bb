package poller_test

import (
	"context"
	"github.com/iret33/ha-climate-scheduler/internal/poller"
	"github.com/iret33/ha-climate-scheduler/internal/schedule"
	"github.com/stretchr/testify/assert"
	"log/slog"
	"testing"
	"time"
)

func TestTimePoller_Run(t *testing.T) {
	p := poller.New(time.Minute, slog.Default())
	p.Now = func() time.Time {
		return time.Date(2024, time.January, 6, 9, 0, 0, 0, time.Local)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Subscribe()
	errCh := make(chan error)
	go func() {
		errCh <- p.Run(ctx)
	}()

	p.Refresh()
	update := <-ch

	assert.Equal(t, schedule.Weekend, update.DayClass)
	assert.Equal(t, 9, update.Time.Hour())

	p.Unsubscribe(ch)
	cancel()
	assert.NoError(t, <-errCh)
}
