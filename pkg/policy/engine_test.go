package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brightcandlelight/trustbase-linux/pkg/core/evidence"
)

type stubEngine struct {
	verdict evidence.Verdict
	queried chan Query
}

func (s *stubEngine) Query(_ context.Context, q Query) evidence.Verdict {
	if s.queried != nil {
		s.queried <- q
	}
	return s.verdict
}

func TestAsyncSubmit_SetsVerdictWithoutBlocking(t *testing.T) {
	stub := &stubEngine{verdict: evidence.Valid, queried: make(chan Query, 1)}
	a := NewAsync(stub, nil)

	ev := evidence.New(123, 7, 443)
	ev.FeedClientSide(nil)

	a.Submit(ev)

	select {
	case q := <-stub.queried:
		require.Equal(t, uint32(123), q.PID)
	case <-time.After(time.Second):
		t.Fatal("engine was never queried")
	}

	require.Eventually(t, func() bool {
		v, set := ev.VerdictValue()
		return set && v == evidence.Valid
	}, time.Second, time.Millisecond)
}
