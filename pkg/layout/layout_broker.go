package layout

import (
	"context"
	"log"
	"math"
	"net/netip"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/buildbarn/go-xdr/pkg/protocols/nfsv4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EntireFileLength is the length of a layout segment that spans the
// entire file, regardless of its size.
const EntireFileLength = math.MaxUint64

// AbandonedSessionReturnCode is the return code that is reported to
// the accounting service for sessions that were swept, because the
// client never retried the request.
const AbandonedSessionReturnCode int32 = -1

// LayoutSegment is a byte range of a file, and the device that clients
// need to contact to access it.
type LayoutSegment struct {
	DeviceID   DeviceID
	FileHandle []byte
	IOMode     IOMode
	Offset     uint64
	Length     uint64
}

// Body returns the XDR encoded nfsv4_1_file_layout4 of the segment.
func (s *LayoutSegment) Body() []byte {
	return encodeFileLayout(s.DeviceID, s.FileHandle)
}

// Layout is returned by LayoutBroker.LayoutGet().
type Layout struct {
	StateID       nfsv4.Stateid4
	ReturnOnClose bool
	Segments      []LayoutSegment
}

// LayoutBroker implements the pNFS operations that are invoked by
// clients after the protocol layer has decoded their requests.
type LayoutBroker interface {
	// LayoutGet returns a layout for a file. For regular files, a
	// mover is started on a pool and this function blocks until the
	// mover reports that it is ready, or until the reply timeout is
	// reached. In the latter case UNAVAILABLE is returned, meaning
	// the client should try again later.
	LayoutGet(ctx context.Context, request *LayoutRequest) (*Layout, error)
	// LayoutReturn releases the session associated with a state ID,
	// and kills its mover. Returning an unknown state ID is not an
	// error.
	LayoutReturn(ctx context.Context, stateID nfsv4.Stateid4) error
	// GetDeviceInfo returns the endpoint corresponding to a device
	// ID. The endpoint of the reserved device ID zero points to the
	// door. If no address for the door is configured, the local
	// address of the client's connection is used.
	GetDeviceInfo(ctx context.Context, deviceID DeviceID, localAddress netip.AddrPort) (*PoolEndpoint, error)
	// GetDeviceList returns all device IDs that may be handed out
	// as part of layouts.
	GetDeviceList(ctx context.Context) ([]DeviceID, error)
}

// MoverReadyEvent is sent by a pool when a mover has been started.
type MoverReadyEvent struct {
	PoolName  string
	Addresses []netip.AddrPort
	MoverID   MoverID
	Handshake []byte
}

// TransferFinishedEvent is sent by a pool when a mover terminates.
type TransferFinishedEvent struct {
	Handshake  []byte
	ReturnCode int32
	Message    string
}

// MoverEventHandler processes events that pools send asynchronously.
// Events may be duplicated, reordered, or refer to sessions that no
// longer exist. None of these conditions are reported as errors.
type MoverEventHandler interface {
	MoverReady(ctx context.Context, event *MoverReadyEvent) error
	TransferFinished(ctx context.Context, event *TransferFinishedEvent) error
}

// AbandonedSessionSweeper removes sessions that clients have given up
// on. It is invoked periodically by RunSessionSweeper().
type AbandonedSessionSweeper interface {
	SweepAbandonedSessions(ctx context.Context, gracePeriod time.Duration) int
}

// InMemoryLayoutBroker is an implementation of LayoutBroker and
// MoverEventHandler that keeps all state in memory. Restarting the
// process causes new device IDs to be allocated, and causes clients
// to retry any requests that were in flight.
type InMemoryLayoutBroker struct {
	registry              *DeviceRegistry
	sessions              *SessionTable
	poolGateway           PoolGateway
	placementLookup       PlacementMetadataLookup
	outcomeRecorder       TransferOutcomeRecorder
	clock                 clock.Clock
	uuidGenerator         util.UUIDGenerator
	replyTimeout          time.Duration
	killMoverTimeout      time.Duration
	metadataServerAddress netip.AddrPort
	outstandingRequests   *semaphore.Weighted
}

var (
	_ LayoutBroker            = (*InMemoryLayoutBroker)(nil)
	_ MoverEventHandler       = (*InMemoryLayoutBroker)(nil)
	_ AbandonedSessionSweeper = (*InMemoryLayoutBroker)(nil)
)

// NewInMemoryLayoutBroker creates a new InMemoryLayoutBroker.
//
// The reply timeout needs to be shorter than the timeout that clients
// apply to requests. Otherwise clients give up before they can be
// told to try again later. If metadataServerAddress is not valid, the
// local address of the client's connection is announced for device
// ID zero.
func NewInMemoryLayoutBroker(
	registry *DeviceRegistry,
	sessions *SessionTable,
	poolGateway PoolGateway,
	placementLookup PlacementMetadataLookup,
	outcomeRecorder TransferOutcomeRecorder,
	clock clock.Clock,
	uuidGenerator util.UUIDGenerator,
	replyTimeout time.Duration,
	killMoverTimeout time.Duration,
	maximumOutstandingRequests int64,
	metadataServerAddress netip.AddrPort,
) *InMemoryLayoutBroker {
	return &InMemoryLayoutBroker{
		registry:              registry,
		sessions:              sessions,
		poolGateway:           poolGateway,
		placementLookup:       placementLookup,
		outcomeRecorder:       outcomeRecorder,
		clock:                 clock,
		uuidGenerator:         uuidGenerator,
		replyTimeout:          replyTimeout,
		killMoverTimeout:      killMoverTimeout,
		metadataServerAddress: metadataServerAddress,
		outstandingRequests:   semaphore.NewWeighted(maximumOutstandingRequests),
	}
}

func newLayout(request *LayoutRequest, deviceID DeviceID) *Layout {
	return &Layout{
		StateID:       request.StateID,
		ReturnOnClose: true,
		Segments: []LayoutSegment{{
			DeviceID:   deviceID,
			FileHandle: request.File.FileHandle,
			IOMode:     request.IOMode,
			Offset:     0,
			Length:     EntireFileLength,
		}},
	}
}

// LayoutGet returns a layout for a file.
func (lb *InMemoryLayoutBroker) LayoutGet(ctx context.Context, request *LayoutRequest) (*Layout, error) {
	// Objects that don't reside on pools are served by the door.
	if !request.File.Regular {
		return newLayout(request, MetadataServerDeviceID), nil
	}

	if !lb.outstandingRequests.TryAcquire(1) {
		return nil, status.Error(codes.Unavailable, "Too many layout requests are waiting for movers to start")
	}
	defer lb.outstandingRequests.Release(1)

	transferID, err := lb.uuidGenerator()
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to generate transfer ID")
	}
	endpoint, err := lb.sessions.Claim(request, transferID)
	if err != nil {
		return nil, err
	}
	if endpoint == nil {
		endpoint, err = lb.startMover(ctx, request, transferID)
		if err != nil {
			// Keep the session around, so that a mover that
			// reports to be ready later on can still be
			// handed out when the client retries.
			lb.sessions.MarkTimedOut(request.StateID)
			return nil, err
		}
	}
	if !lb.sessions.MarkActive(request.StateID) {
		return nil, status.Errorf(codes.Unavailable, "Session for state ID %s was released before a layout could be granted", FormatStateID(request.StateID))
	}

	// Use the device ID under which the pool was known when the
	// mover reported to be ready, even if the pool has changed
	// addresses since.
	return newLayout(request, endpoint.DeviceID()), nil
}

func (lb *InMemoryLayoutBroker) startMover(ctx context.Context, request *LayoutRequest, transferID uuid.UUID) (*PoolEndpoint, error) {
	placement, err := lb.placementLookup.LookupPlacementMetadata(ctx, &request.File)
	if err != nil {
		return nil, util.StatusWrapfWithCode(err, codes.Unavailable, "Failed to look up placement metadata of file %#v", request.File.FileID)
	}

	// Only write into files that have just been created. Everything
	// else is opened for reading.
	write := request.IOMode != IOModeRead && placement.FreshlyCreated
	lb.sessions.SetWrite(request.StateID, write)

	if err := lb.poolGateway.SelectPoolAndStartMover(ctx, &MoverRequest{
		TransferID:    transferID,
		StateID:       request.StateID,
		Handshake:     EncodeHandshake(request.StateID),
		File:          request.File,
		Write:         write,
		Placement:     placement,
		ClientAddress: request.ClientAddress,
	}); err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Unavailable, "Failed to select pool")
	}

	endpoint, err := lb.sessions.AwaitRedirect(ctx, request.StateID, lb.replyTimeout)
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Unavailable, "Failed to wait for mover to start")
	}
	return endpoint, nil
}

// LayoutReturn releases the session associated with a state ID.
func (lb *InMemoryLayoutBroker) LayoutReturn(ctx context.Context, stateID nfsv4.Stateid4) error {
	session, ok := lb.sessions.Remove(stateID)
	if !ok {
		return nil
	}
	lb.tearDown(ctx, &session, []TeardownStep{
		lb.killMover(&session, "Layout returned by client"),
	})
	return nil
}

// GetDeviceInfo returns the endpoint corresponding to a device ID.
func (lb *InMemoryLayoutBroker) GetDeviceInfo(ctx context.Context, deviceID DeviceID, localAddress netip.AddrPort) (*PoolEndpoint, error) {
	if deviceID == MetadataServerDeviceID {
		address := lb.metadataServerAddress
		if !address.IsValid() {
			address = localAddress
		}
		endpoint, err := NewMetadataServerEndpoint(address)
		if err != nil {
			return nil, util.StatusWrap(err, "Failed to create endpoint for metadata server")
		}
		return endpoint, nil
	}

	endpoint, ok := lb.registry.Lookup(deviceID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Unknown device ID %s", deviceID)
	}
	return endpoint, nil
}

// GetDeviceList returns all device IDs that may be handed out as part
// of layouts, including the one of the metadata server.
func (lb *InMemoryLayoutBroker) GetDeviceList(ctx context.Context) ([]DeviceID, error) {
	return append([]DeviceID{MetadataServerDeviceID}, lb.registry.ListKnownDeviceIDs()...), nil
}

// MoverReady binds the session of a mover to the pool on which it was
// started, waking up the call to LayoutGet() that is waiting for it.
// Movers reporting for a session that is already bound to another
// mover are killed.
func (lb *InMemoryLayoutBroker) MoverReady(ctx context.Context, event *MoverReadyEvent) error {
	stateID, err := DecodeHandshake(event.Handshake)
	if err != nil {
		return util.StatusWrapf(err, "Invalid handshake received from pool %#v", event.PoolName)
	}
	endpoint, err := lb.registry.ResolveOrAllocate(event.PoolName, event.Addresses)
	if err != nil {
		return util.StatusWrapf(err, "Failed to register pool %#v", event.PoolName)
	}
	if lb.sessions.Resolve(stateID, endpoint, event.MoverID) {
		return nil
	}

	// A client that retries LAYOUTGET after a timeout causes another
	// mover to be started. Only the first mover to report is used,
	// meaning any other mover needs to be killed. Redelivered events
	// of the first mover are ignored.
	session, ok := lb.sessions.Lookup(stateID)
	if !ok || !session.HasMover() || (session.PoolName() == event.PoolName && session.MoverID == event.MoverID) {
		return nil
	}
	redundant := Session{
		StateID:    stateID,
		TransferID: session.TransferID,
		File:       session.File,
		Endpoint:   endpoint,
		MoverID:    event.MoverID,
	}
	lb.tearDown(ctx, &redundant, []TeardownStep{
		lb.killMover(&redundant, "Session is already served by another mover"),
	})
	return nil
}

// TransferFinished releases the session of a mover that terminated,
// and reports the outcome to the accounting service.
func (lb *InMemoryLayoutBroker) TransferFinished(ctx context.Context, event *TransferFinishedEvent) error {
	stateID, err := DecodeHandshake(event.Handshake)
	if err != nil {
		return util.StatusWrap(err, "Invalid handshake received from pool")
	}
	session, ok := lb.sessions.Remove(stateID)
	if !ok {
		return nil
	}
	lb.tearDown(ctx, &session, []TeardownStep{
		lb.recordOutcome(&session, event.ReturnCode, event.Message),
	})
	return nil
}

// SweepAbandonedSessions removes sessions that have been abandoned for
// at least the provided grace period. Movers that started after the
// client stopped waiting are killed. The number of removed sessions is
// returned.
func (lb *InMemoryLayoutBroker) SweepAbandonedSessions(ctx context.Context, gracePeriod time.Duration) int {
	swept := lb.sessions.Sweep(gracePeriod)
	for i := range swept {
		session := &swept[i]
		lb.tearDown(ctx, session, []TeardownStep{
			lb.killMover(session, "Session abandoned by client"),
			lb.recordOutcome(session, AbandonedSessionReturnCode, "Session abandoned by client"),
		})
	}
	return len(swept)
}

// tearDown runs the steps needed to release a session. Teardown is
// best effort, meaning failures are only logged. Steps are not
// interrupted by cancellation of the caller's context.
func (lb *InMemoryLayoutBroker) tearDown(ctx context.Context, session *Session, steps []TeardownStep) {
	if err := NewChainedTeardownStep(steps)(context.WithoutCancel(ctx)); err != nil {
		log.Printf("Failed to tear down session for state ID %s: %s", FormatStateID(session.StateID), err)
	}
}

func (lb *InMemoryLayoutBroker) killMover(session *Session, reason string) TeardownStep {
	return func(ctx context.Context) error {
		if !session.HasMover() {
			return nil
		}
		ctxWithTimeout, cancel := lb.clock.NewContextWithTimeout(ctx, lb.killMoverTimeout)
		defer cancel()
		if err := lb.poolGateway.KillMover(ctxWithTimeout, session.PoolName(), session.MoverID, reason); err != nil {
			return util.StatusWrapf(err, "Failed to kill mover %d on pool %#v", session.MoverID, session.PoolName())
		}
		return nil
	}
}

func (lb *InMemoryLayoutBroker) recordOutcome(session *Session, returnCode int32, message string) TeardownStep {
	return func(ctx context.Context) error {
		if err := lb.outcomeRecorder.RecordTransferOutcome(ctx, &TransferOutcome{
			Session:    *session,
			ReturnCode: returnCode,
			Message:    message,
		}); err != nil {
			return util.StatusWrapf(err, "Failed to record outcome of transfer %s", session.TransferID)
		}
		return nil
	}
}
