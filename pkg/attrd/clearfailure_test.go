package attrd

import (
	"testing"
	"time"

	"github.com/cuemby/attrd-core/pkg/cib"
	"github.com/stretchr/testify/require"
)

func TestClearFailureLocalOnlyMatchesResource(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.Update("fail-count-X", strp("5"), 0, "", "", "")
	e.Update("fail-count-Y", strp("2"), 0, "", "", "")
	e.Update("last-failure-X", strp("abc"), 0, "", "", "")

	for _, name := range []string{"fail-count-X", "fail-count-Y", "last-failure-X"} {
		name := name
		require.Eventually(t, func() bool {
			entry, ok := e.Get(name)
			return ok && entry.CommittedValue != nil
		}, time.Second, 5*time.Millisecond)
	}

	e.ClearFailure("X", "", 0, "")

	require.Eventually(t, func() bool {
		x, _ := e.Get("fail-count-X")
		lx, _ := e.Get("last-failure-X")
		return x.CommittedValue == nil && lx.CommittedValue == nil
	}, time.Second, 5*time.Millisecond)

	y, ok := e.Get("fail-count-Y")
	require.True(t, ok)
	require.NotNil(t, y.CommittedValue)
	require.Equal(t, "2", *y.CommittedValue)
}

func TestClearFailureRemoteHostDeletesFromStore(t *testing.T) {
	e, store, _ := newTestEngine(t)

	waitForCall := func(id cib.CallID) {
		done := make(chan struct{})
		store.RegisterCallback(id, 0, nil, nil, func(_ cib.CallID, err error) {
			require.NoError(t, err)
			close(done)
		})
		<-done
	}

	id, err := store.Update("status", "remote-node", "", "fail-count-X", "5", "")
	require.NoError(t, err)
	waitForCall(id)

	id, err = store.Update("status", "remote-node", "", "fail-count-Y", "2", "")
	require.NoError(t, err)
	waitForCall(id)

	e.ClearFailure("X", "", 0, "remote-node")

	require.Eventually(t, func() bool {
		id, err := store.Query("status/remote-node//fail-count-X", 0)
		require.NoError(t, err)
		done := make(chan bool, 1)
		store.RegisterCallback(id, 0, nil, nil, func(_ cib.CallID, err error) {
			done <- err != nil
		})
		return <-done
	}, time.Second, 5*time.Millisecond)

	id, err = store.Query("status/remote-node//fail-count-Y", 0)
	require.NoError(t, err)
	found := make(chan bool, 1)
	store.RegisterCallback(id, 0, nil, nil, func(_ cib.CallID, err error) {
		found <- err == nil
	})
	require.True(t, <-found)
}

func TestClearFailurePatternNarrowsByOperation(t *testing.T) {
	pattern := clearFailurePattern("r1", "monitor", 5000)
	require.True(t, pattern.MatchString("fail-count-r1#monitor_5000"))
	require.False(t, pattern.MatchString("fail-count-r1"))
	require.False(t, pattern.MatchString("fail-count-r2#monitor_5000"))
}
