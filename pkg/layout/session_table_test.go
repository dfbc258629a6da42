package layout_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/buildbarn/bb-pnfs-door/internal/mock"
	"github.com/buildbarn/bb-pnfs-door/pkg/layout"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/buildbarn/go-xdr/pkg/protocols/nfsv4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/mock/gomock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	stateID1 = nfsv4.Stateid4{
		Seqid: 1,
		Other: [...]byte{0x5e, 0x4f, 0x1a, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x2a},
	}
	stateID2 = nfsv4.Stateid4{
		Seqid: 1,
		Other: [...]byte{0x5e, 0x4f, 0x1a, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x2b},
	}

	transferID1 = uuid.MustParse("7c8d5fbf-4d5b-4b0e-9bb4-5e0e4f1c8f01")
	transferID2 = uuid.MustParse("0a9d7a34-93f1-4c3a-8f0d-b3b2a5a4c602")

	clientAddress = netip.MustParseAddrPort("10.1.2.3:871")

	regularFile = layout.FileRef{
		FileID:     "0000A1B2C3D4E5F60718293A4B5C6D7E8F90",
		FileHandle: []byte{0x01, 0x02, 0x03, 0x04},
		Regular:    true,
	}
	layoutRequest1 = layout.LayoutRequest{
		File:          regularFile,
		IOMode:        layout.IOModeRead,
		ClientAddress: clientAddress,
		StateID:       stateID1,
	}
	layoutRequest2 = layout.LayoutRequest{
		File:          regularFile,
		IOMode:        layout.IOModeReadWrite,
		ClientAddress: clientAddress,
		StateID:       stateID2,
	}
)

func newTestEndpoint(t *testing.T, poolName string, addresses []netip.AddrPort) *layout.PoolEndpoint {
	endpoint, err := layout.NewDeviceRegistry().ResolveOrAllocate(poolName, addresses)
	require.NoError(t, err)
	return endpoint
}

func TestSessionTableCreate(t *testing.T) {
	ctrl := gomock.NewController(t)

	clock := mock.NewMockClock(ctrl)
	sessions := layout.NewSessionTable(clock)

	clock.EXPECT().Now().Return(time.Unix(1000, 0))
	require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

	session, ok := sessions.Lookup(stateID1)
	require.True(t, ok)
	require.Equal(t, layout.Session{
		StateID:       stateID1,
		TransferID:    transferID1,
		File:          regularFile,
		IOMode:        layout.IOModeRead,
		ClientAddress: clientAddress,
		CreatedAt:     time.Unix(1000, 0),
		State:         layout.SessionStateRequested,
	}, session)

	// Creating a second session for the same state ID is not
	// permitted.
	testutil.RequireEqualStatus(
		t,
		status.Errorf(codes.AlreadyExists, "A session for state ID %s already exists", layout.FormatStateID(stateID1)),
		sessions.Create(&layoutRequest1, transferID2))
}

func TestSessionTableResolve(t *testing.T) {
	ctrl := gomock.NewController(t)

	clock := mock.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Unix(1000, 0)).AnyTimes()
	endpoint1 := newTestEndpoint(t, "poolA", poolAddresses1)
	endpoint2 := newTestEndpoint(t, "poolB", poolAddresses2)

	t.Run("FirstWriterWins", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

		require.True(t, sessions.Resolve(stateID1, endpoint1, 12))
		require.False(t, sessions.Resolve(stateID1, endpoint2, 13))

		session, ok := sessions.Lookup(stateID1)
		require.True(t, ok)
		require.Same(t, endpoint1, session.Endpoint)
		require.Equal(t, layout.MoverID(12), session.MoverID)
		require.Equal(t, layout.SessionStateRedirected, session.State)
		require.Equal(t, "poolA", session.PoolName())
	})

	t.Run("UnknownSession", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.False(t, sessions.Resolve(stateID1, endpoint1, 12))
		require.Equal(t, 0, sessions.Len())
	})

	t.Run("LateResolve", func(t *testing.T) {
		// Resolving a session that has already been removed
		// must not bring it back.
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))
		_, ok := sessions.Remove(stateID1)
		require.True(t, ok)

		require.False(t, sessions.Resolve(stateID1, endpoint1, 12))
		require.Equal(t, 0, sessions.Len())
	})
}

func TestSessionTableRemove(t *testing.T) {
	ctrl := gomock.NewController(t)

	clock := mock.NewMockClock(ctrl)
	sessions := layout.NewSessionTable(clock)

	clock.EXPECT().Now().Return(time.Unix(1000, 0))
	require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

	session, ok := sessions.Remove(stateID1)
	require.True(t, ok)
	require.Equal(t, transferID1, session.TransferID)

	_, ok = sessions.Remove(stateID1)
	require.False(t, ok)
	_, ok = sessions.Lookup(stateID1)
	require.False(t, ok)
}

func TestSessionTableAwaitRedirect(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	clock := mock.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Unix(1000, 0)).AnyTimes()
	endpoint := newTestEndpoint(t, "poolA", poolAddresses1)

	t.Run("UnknownSession", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		_, err := sessions.AwaitRedirect(ctx, stateID1, 27*time.Second)
		testutil.RequireEqualStatus(t, status.Errorf(codes.NotFound, "No session exists for state ID %s", layout.FormatStateID(stateID1)), err)
	})

	t.Run("AlreadyResolved", func(t *testing.T) {
		// No timer should be created if the mover was started
		// before the caller started waiting.
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))
		require.True(t, sessions.Resolve(stateID1, endpoint, 12))

		resolvedEndpoint, err := sessions.AwaitRedirect(ctx, stateID1, 27*time.Second)
		require.NoError(t, err)
		require.Same(t, endpoint, resolvedEndpoint)
	})

	t.Run("ZeroTimeout", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

		_, err := sessions.AwaitRedirect(ctx, stateID1, 0)
		testutil.RequireEqualStatus(t, status.Error(codes.DeadlineExceeded, "Mover did not start in time"), err)
	})

	t.Run("Timeout", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

		timer := mock.NewMockTimer(ctrl)
		timerChannel := make(chan time.Time, 1)
		timerChannel <- time.Unix(1027, 0)
		clock.EXPECT().NewTimer(27*time.Second).Return(timer, timerChannel)
		timer.EXPECT().Stop().Return(false)

		_, err := sessions.AwaitRedirect(ctx, stateID1, 27*time.Second)
		testutil.RequireEqualStatus(t, status.Error(codes.DeadlineExceeded, "Mover did not start within 27s"), err)

		// Timing out should not cause the session to be removed.
		session, ok := sessions.Lookup(stateID1)
		require.True(t, ok)
		require.Equal(t, layout.SessionStateRequested, session.State)
	})

	t.Run("Resolved", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

		// Resolve the session while the caller is waiting.
		timer := mock.NewMockTimer(ctrl)
		clock.EXPECT().NewTimer(27*time.Second).DoAndReturn(func(d time.Duration) (*mock.MockTimer, <-chan time.Time) {
			require.True(t, sessions.Resolve(stateID1, endpoint, 12))
			return timer, make(chan time.Time)
		})
		timer.EXPECT().Stop().Return(true)

		resolvedEndpoint, err := sessions.AwaitRedirect(ctx, stateID1, 27*time.Second)
		require.NoError(t, err)
		require.Same(t, endpoint, resolvedEndpoint)
	})

	t.Run("Removed", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

		timer := mock.NewMockTimer(ctrl)
		clock.EXPECT().NewTimer(27*time.Second).DoAndReturn(func(d time.Duration) (*mock.MockTimer, <-chan time.Time) {
			_, ok := sessions.Remove(stateID1)
			require.True(t, ok)
			return timer, make(chan time.Time)
		})
		timer.EXPECT().Stop().Return(true)

		_, err := sessions.AwaitRedirect(ctx, stateID1, 27*time.Second)
		testutil.RequireEqualStatus(t, status.Errorf(codes.Aborted, "Session for state ID %s was released while waiting for the mover to start", layout.FormatStateID(stateID1)), err)
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

		ctxWithCancel, cancel := context.WithCancel(ctx)
		timer := mock.NewMockTimer(ctrl)
		clock.EXPECT().NewTimer(27*time.Second).DoAndReturn(func(d time.Duration) (*mock.MockTimer, <-chan time.Time) {
			cancel()
			return timer, make(chan time.Time)
		})
		timer.EXPECT().Stop().Return(true)

		_, err := sessions.AwaitRedirect(ctxWithCancel, stateID1, 27*time.Second)
		require.Equal(t, codes.Canceled, status.Code(err))
	})

	t.Run("MultipleWaiters", func(t *testing.T) {
		// All callers waiting on the same session should be
		// woken up by a single call to Resolve().
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

		var timersCreated sync.WaitGroup
		timersCreated.Add(2)
		timer := mock.NewMockTimer(ctrl)
		clock.EXPECT().NewTimer(27*time.Second).DoAndReturn(func(d time.Duration) (*mock.MockTimer, <-chan time.Time) {
			timersCreated.Done()
			return timer, make(chan time.Time)
		}).Times(2)
		timer.EXPECT().Stop().Return(true).Times(2)

		var waiters sync.WaitGroup
		for i := 0; i < 2; i++ {
			waiters.Add(1)
			go func() {
				defer waiters.Done()
				resolvedEndpoint, err := sessions.AwaitRedirect(ctx, stateID1, 27*time.Second)
				require.NoError(t, err)
				require.Same(t, endpoint, resolvedEndpoint)
			}()
		}
		timersCreated.Wait()
		require.True(t, sessions.Resolve(stateID1, endpoint, 12))
		waiters.Wait()
	})
}

func TestSessionTableClaim(t *testing.T) {
	ctrl := gomock.NewController(t)

	clock := mock.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Unix(1000, 0)).AnyTimes()
	endpoint := newTestEndpoint(t, "poolA", poolAddresses1)

	t.Run("NewSession", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		claimedEndpoint, err := sessions.Claim(&layoutRequest1, transferID1)
		require.NoError(t, err)
		require.Nil(t, claimedEndpoint)

		session, ok := sessions.Lookup(stateID1)
		require.True(t, ok)
		require.Equal(t, transferID1, session.TransferID)
		require.Equal(t, layout.SessionStateRequested, session.State)
	})

	t.Run("InProgress", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

		_, err := sessions.Claim(&layoutRequest1, transferID2)
		testutil.RequireEqualStatus(t, status.Errorf(codes.Unavailable, "A layout request for state ID %s is already in progress", layout.FormatStateID(stateID1)), err)
	})

	t.Run("DifferentFile", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

		otherRequest := layoutRequest1
		otherRequest.File.FileID = "0000FFFF"
		_, err := sessions.Claim(&otherRequest, transferID2)
		testutil.RequireEqualStatus(t, status.Errorf(codes.FailedPrecondition, "State ID %s is already in use for file \"0000A1B2C3D4E5F60718293A4B5C6D7E8F90\"", layout.FormatStateID(stateID1)), err)
	})

	t.Run("Active", func(t *testing.T) {
		// Repeated requests for an active session yield the
		// existing endpoint.
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))
		require.True(t, sessions.Resolve(stateID1, endpoint, 12))
		require.True(t, sessions.MarkActive(stateID1))

		claimedEndpoint, err := sessions.Claim(&layoutRequest1, transferID2)
		require.NoError(t, err)
		require.Same(t, endpoint, claimedEndpoint)
	})

	t.Run("AdoptLateRedirect", func(t *testing.T) {
		// The client gave up waiting, but the mover reported
		// to be ready afterwards. The retried request adopts
		// the session.
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))
		require.True(t, sessions.MarkTimedOut(stateID1))
		require.True(t, sessions.Resolve(stateID1, endpoint, 12))

		claimedEndpoint, err := sessions.Claim(&layoutRequest1, transferID2)
		require.NoError(t, err)
		require.Same(t, endpoint, claimedEndpoint)

		session, ok := sessions.Lookup(stateID1)
		require.True(t, ok)
		require.Equal(t, transferID1, session.TransferID)
		require.Equal(t, layout.SessionStateActive, session.State)
	})

	t.Run("RestartWithoutRedirect", func(t *testing.T) {
		sessions := layout.NewSessionTable(clock)
		require.NoError(t, sessions.Create(&layoutRequest1, transferID1))
		require.True(t, sessions.MarkTimedOut(stateID1))

		claimedEndpoint, err := sessions.Claim(&layoutRequest1, transferID2)
		require.NoError(t, err)
		require.Nil(t, claimedEndpoint)

		session, ok := sessions.Lookup(stateID1)
		require.True(t, ok)
		require.Equal(t, transferID2, session.TransferID)
		require.Equal(t, layout.SessionStateRequested, session.State)

		// A late redirect for the previous attempt now
		// applies to the new session.
		require.True(t, sessions.Resolve(stateID1, endpoint, 12))
	})
}

func TestSessionTableMarkActive(t *testing.T) {
	ctrl := gomock.NewController(t)

	clock := mock.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Unix(1000, 0)).AnyTimes()
	sessions := layout.NewSessionTable(clock)
	endpoint := newTestEndpoint(t, "poolA", poolAddresses1)

	require.False(t, sessions.MarkActive(stateID1))

	require.NoError(t, sessions.Create(&layoutRequest1, transferID1))
	require.False(t, sessions.MarkActive(stateID1))

	require.True(t, sessions.Resolve(stateID1, endpoint, 12))
	require.True(t, sessions.MarkActive(stateID1))

	// Active sessions cannot time out.
	require.False(t, sessions.MarkTimedOut(stateID1))
	session, ok := sessions.Lookup(stateID1)
	require.True(t, ok)
	require.Equal(t, layout.SessionStateActive, session.State)
}

func TestSessionTableSweep(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	clock := mock.NewMockClock(ctrl)
	sessions := layout.NewSessionTable(clock)
	endpoint := newTestEndpoint(t, "poolA", poolAddresses1)

	// Session 1 is abandoned. Session 2 is active.
	clock.EXPECT().Now().Return(time.Unix(1000, 0))
	require.NoError(t, sessions.Create(&layoutRequest1, transferID1))
	clock.EXPECT().Now().Return(time.Unix(1001, 0))
	require.NoError(t, sessions.Create(&layoutRequest2, transferID2))
	clock.EXPECT().Now().Return(time.Unix(1030, 0))
	require.True(t, sessions.MarkTimedOut(stateID1))
	require.True(t, sessions.Resolve(stateID2, endpoint, 13))
	require.True(t, sessions.MarkActive(stateID2))

	// Nothing is swept before the grace period has elapsed.
	clock.EXPECT().Now().Return(time.Unix(1300, 0))
	require.Empty(t, sessions.Sweep(5*time.Minute))
	require.Equal(t, 2, sessions.Len())

	// Sessions that still have a waiter are never swept.
	timer := mock.NewMockTimer(ctrl)
	timerChannel := make(chan time.Time, 1)
	clock.EXPECT().NewTimer(27*time.Second).DoAndReturn(func(d time.Duration) (*mock.MockTimer, <-chan time.Time) {
		clock.EXPECT().Now().Return(time.Unix(1330, 0))
		require.Empty(t, sessions.Sweep(5*time.Minute))
		timerChannel <- time.Unix(1357, 0)
		return timer, timerChannel
	})
	timer.EXPECT().Stop().Return(false)
	_, err := sessions.AwaitRedirect(ctx, stateID1, 27*time.Second)
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))

	// Once the waiter is gone, the session can be swept.
	clock.EXPECT().Now().Return(time.Unix(1330, 0))
	swept := sessions.Sweep(5 * time.Minute)
	require.Len(t, swept, 1)
	require.Equal(t, stateID1, swept[0].StateID)
	require.Equal(t, layout.SessionStateTimedOut, swept[0].State)

	_, ok := sessions.Lookup(stateID1)
	require.False(t, ok)
	require.Equal(t, 1, sessions.Len())
}

func TestSessionTableSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)

	clock := mock.NewMockClock(ctrl)
	sessions := layout.NewSessionTable(clock)

	clock.EXPECT().Now().Return(time.Unix(1001, 0))
	require.NoError(t, sessions.Create(&layoutRequest2, transferID2))
	clock.EXPECT().Now().Return(time.Unix(1000, 0))
	require.NoError(t, sessions.Create(&layoutRequest1, transferID1))

	snapshot := sessions.Snapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, stateID1, snapshot[0].StateID)
	require.Equal(t, stateID2, snapshot[1].StateID)
}
