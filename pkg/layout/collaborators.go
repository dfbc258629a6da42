package layout

import (
	"context"
	"net/netip"

	"github.com/buildbarn/go-xdr/pkg/protocols/nfsv4"
	"github.com/google/uuid"
)

// MoverRequest contains the parameters that are provided to the pool
// manager to select a pool and start a mover.
type MoverRequest struct {
	TransferID    uuid.UUID
	StateID       nfsv4.Stateid4
	Handshake     []byte
	File          FileRef
	Write         bool
	Placement     *PlacementMetadata
	ClientAddress netip.AddrPort
}

// PoolGateway is used by LayoutBroker to send requests to the pool
// manager and individual pools.
type PoolGateway interface {
	// SelectPoolAndStartMover asks the pool manager to select a
	// pool and to start a mover on it. This function returns as
	// soon as the request has been accepted. Once the mover is
	// started, the pool calls into MoverEventHandler.MoverReady(),
	// providing the handshake contained in the request.
	SelectPoolAndStartMover(ctx context.Context, request *MoverRequest) error

	// KillMover requests that a pool terminates a mover. The
	// deadline of the context bounds the time spent waiting for
	// the pool to respond.
	KillMover(ctx context.Context, poolName string, moverID MoverID, reason string) error
}

// PlacementMetadata contains the properties of a file that the pool
// manager needs to select a pool.
type PlacementMetadata struct {
	StorageClass string
	HSM          string
	SizeBytes    uint64
	// FreshlyCreated is set for files that have been created, but
	// to which no data has been written yet.
	FreshlyCreated bool
}

// PlacementMetadataLookup is used by LayoutBroker to obtain the
// placement metadata of a file from the namespace.
type PlacementMetadataLookup interface {
	LookupPlacementMetadata(ctx context.Context, file *FileRef) (*PlacementMetadata, error)
}

// TransferOutcome is reported to the accounting service when a
// session terminates.
type TransferOutcome struct {
	Session    Session
	ReturnCode int32
	Message    string
}

// TransferOutcomeRecorder is used by LayoutBroker to report transfer
// outcomes. Implementations should not block on delivery.
type TransferOutcomeRecorder interface {
	RecordTransferOutcome(ctx context.Context, outcome *TransferOutcome) error
}
