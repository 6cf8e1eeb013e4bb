package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	target     Target
	ran        *int32
	afterCancel bool
	delay      time.Duration
}

func (f *fakeJob) Desc() string                  { return "fake" }
func (f *fakeJob) Target() Target                { return f.target }
func (f *fakeJob) ExecuteAfterCancellation() bool { return f.afterCancel }
func (f *fakeJob) Run(ctx context.Context) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	atomic.AddInt32(f.ran, 1)
	return nil
}

func TestDispatcherRunsJobOnCorrectFifo(t *testing.T) {
	d := NewDispatcher(context.Background())
	defer d.Close()

	var ran int32
	job := &fakeJob{target: HostTarget, ran: &ran}

	awaiter := d.Dispatch(job)
	err := awaiter.Wait()

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestDispatcherSeparateTargetsDoNotBlockEachOther(t *testing.T) {
	d := NewDispatcher(context.Background())
	defer d.Close()

	var ranSlow, ranFast int32
	slow := &fakeJob{target: HostTarget, ran: &ranSlow, delay: 200 * time.Millisecond}
	fast := &fakeJob{target: BackgroundTarget, ran: &ranFast}

	d.Dispatch(slow)
	fastAwaiter := d.Dispatch(fast)

	require.NoError(t, fastAwaiter.Wait())
	assert.Equal(t, int32(1), atomic.LoadInt32(&ranFast))
}

func TestDispatcherCloseDrainsExecuteAfterCancellationJobs(t *testing.T) {
	d := NewDispatcher(context.Background())

	var ranMust int32
	must := &fakeJob{target: HostTarget, ran: &ranMust, afterCancel: true}

	awaiter := d.Dispatch(must)
	d.Close()

	_ = awaiter.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ranMust))
}
