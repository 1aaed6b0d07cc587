package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Act1nv3r/HUA/internal/diag"
	"github.com/Act1nv3r/HUA/internal/rate"
	"github.com/Act1nv3r/HUA/pkg/contract"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func records(n int) []contract.Record {
	out := make([]contract.Record, n)
	for i := range out {
		out[i] = contract.Record{Initiative: "Pagos", Row: i + 3, ID: fmt.Sprintf("HU-%03d", i+1), Title: "t"}
	}
	return out
}

func fixed(v float64) contract.Assessment {
	as := contract.Assessment{Scores: map[contract.Dimension]float64{}}
	for _, d := range contract.Dimensions {
		as.Scores[d] = v
	}
	return as
}

// inflight 统计同时在途的调用数峰值。
type inflight struct {
	cur, peak atomic.Int64
}

func (f *inflight) enter() {
	n := f.cur.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (f *inflight) leave() { f.cur.Add(-1) }

func noSleep(context.Context, time.Duration) error { return nil }

func TestScoreBoundsConcurrencyAndKeepsOneOutcomePerRecord(t *testing.T) {
	var f inflight
	client := contract.ScoreClientFunc(func(ctx context.Context, rec contract.Record) (contract.Assessment, error) {
		f.enter()
		defer f.leave()
		time.Sleep(5 * time.Millisecond)
		if rec.ID == "HU-007" {
			return contract.Assessment{}, contract.ErrFatal
		}
		return fixed(80), nil
	})
	s := &Scorer{Client: client, Concurrency: 5, Logger: diag.NewNop()}
	recs := records(12)
	b, err := s.Score(context.Background(), recs)
	require.NoError(t, err)

	require.Len(t, b.Outcomes, 12)
	assert.LessOrEqual(t, f.peak.Load(), int64(5))
	assert.Greater(t, f.peak.Load(), int64(1))
	assert.Equal(t, 12, b.Dispatched)
	assert.Equal(t, 1, b.Failed())
	for i, o := range b.Outcomes {
		assert.Equal(t, recs[i].Key(), o.Record.Key())
		if o.Record.ID == "HU-007" {
			assert.ErrorIs(t, o.Err, contract.ErrFatal)
			assert.Equal(t, 1, o.Attempts, "fatal errors are not retried")
		} else {
			assert.NoError(t, o.Err)
			assert.Equal(t, 80.0, o.Assessment.Scores[contract.DimFuncional])
		}
	}
}

func TestScoreRetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	client := contract.ScoreClientFunc(func(ctx context.Context, rec contract.Record) (contract.Assessment, error) {
		if calls.Add(1) <= 2 {
			return contract.Assessment{}, fmt.Errorf("upstream 429: %w", contract.ErrRateLimited)
		}
		return fixed(50), nil
	})
	var mu sync.Mutex
	var delays []time.Duration
	var states []State
	s := &Scorer{
		Client:      client,
		Concurrency: 2,
		Policy:      Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second},
		Observe: func(_ contract.RecordKey, st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
		sleep: func(_ context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		},
	}
	b, err := s.Score(context.Background(), records(1))
	require.NoError(t, err)
	o := b.Outcomes[0]
	require.NoError(t, o.Err)
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	assert.Equal(t, []State{
		StatePending, StateInFlight,
		StateRetryScheduled, StateInFlight,
		StateRetryScheduled, StateInFlight,
		StateSucceeded,
	}, states)
}

func TestScoreGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	client := contract.ScoreClientFunc(func(ctx context.Context, rec contract.Record) (contract.Assessment, error) {
		calls.Add(1)
		return contract.Assessment{}, fmt.Errorf("503: %w", contract.ErrTransient)
	})
	s := &Scorer{Client: client, Concurrency: 1, Policy: Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, sleep: noSleep}
	b, err := s.Score(context.Background(), records(1))
	require.NoError(t, err)
	assert.ErrorIs(t, b.Outcomes[0].Err, contract.ErrTransient)
	assert.Equal(t, 3, b.Outcomes[0].Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestScoreAcquireTimeoutIsRetried(t *testing.T) {
	// 桶容量 1 且几乎不补充：第二条记录在 acquire 超时后按 RateLimited 失败。
	g := rate.NewGate(map[rate.LimitKey]rate.Limits{"k": {Capacity: 1, RefillPerMinute: 0.001}}, nil)
	client := contract.ScoreClientFunc(func(ctx context.Context, rec contract.Record) (contract.Assessment, error) {
		return fixed(70), nil
	})
	s := &Scorer{
		Client: client, Concurrency: 1, Gate: g, GateKey: "k",
		AcquireTimeout: 10 * time.Millisecond,
		Policy:         Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 1},
		sleep:          noSleep,
	}
	b, err := s.Score(context.Background(), records(2))
	require.NoError(t, err)
	assert.NoError(t, b.Outcomes[0].Err)
	assert.ErrorIs(t, b.Outcomes[1].Err, contract.ErrRateLimited)
	assert.Equal(t, 2, b.Outcomes[1].Attempts)
}

func TestScoreStopsDispatchOnCreditsExhausted(t *testing.T) {
	var calls atomic.Int32
	client := contract.ScoreClientFunc(func(ctx context.Context, rec contract.Record) (contract.Assessment, error) {
		calls.Add(1)
		if rec.ID == "HU-002" {
			return contract.Assessment{}, fmt.Errorf("402: %w", contract.ErrCreditsExhausted)
		}
		return fixed(90), nil
	})
	s := &Scorer{Client: client, Concurrency: 1, sleep: noSleep}
	b, err := s.Score(context.Background(), records(6))
	require.NoError(t, err)

	require.Len(t, b.Outcomes, 6)
	assert.True(t, b.CreditsExhausted)
	assert.Equal(t, 2, b.Dispatched)
	assert.Equal(t, int32(2), calls.Load())
	assert.NoError(t, b.Outcomes[0].Err)
	assert.Equal(t, 1, b.Outcomes[1].Attempts)
	for _, o := range b.Outcomes[1:] {
		assert.ErrorIs(t, o.Err, contract.ErrCreditsExhausted, o.Record.ID)
	}
	for _, o := range b.Outcomes[2:] {
		assert.Zero(t, o.Attempts, o.Record.ID)
	}
	assert.Contains(t, creditsNote(b), "4 HUs")
}

func TestScoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := contract.ScoreClientFunc(func(ctx context.Context, rec contract.Record) (contract.Assessment, error) {
		return fixed(10), nil
	})
	s := &Scorer{Client: client, Concurrency: 3}
	b, err := s.Score(ctx, records(4))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, b.Outcomes, 4)
	for _, o := range b.Outcomes {
		assert.True(t, errors.Is(o.Err, context.Canceled), o.Record.ID)
	}
}

func TestScoreProgressIsSerialAndComplete(t *testing.T) {
	client := contract.ScoreClientFunc(func(ctx context.Context, rec contract.Record) (contract.Assessment, error) {
		return fixed(60), nil
	})
	var seen []int
	s := &Scorer{Client: client, Concurrency: 4, Progress: func(done, total, errs int) {
		assert.Equal(t, 9, total)
		seen = append(seen, done)
	}}
	_, err := s.Score(context.Background(), records(9))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

func TestScoreNilClient(t *testing.T) {
	_, err := (&Scorer{}).Score(context.Background(), records(1))
	assert.ErrorIs(t, err, contract.ErrConfigInvalid)
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 16*time.Second, p.Delay(5))
	assert.Equal(t, 30*time.Second, p.Delay(6))
	assert.Equal(t, "retry_scheduled", StateRetryScheduled.String())
}

func BenchmarkScore(b *testing.B) {
	client := contract.ScoreClientFunc(func(ctx context.Context, rec contract.Record) (contract.Assessment, error) {
		return fixed(75), nil
	})
	s := &Scorer{Client: client, Concurrency: 5}
	recs := records(200)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Score(context.Background(), recs); err != nil {
			b.Fatal(err)
		}
	}
}
