package messaging

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/netip"

	"github.com/buildbarn/bb-pnfs-door/pkg/layout"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/gorilla/mux"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Upper bound on the size of events sent by pools.
const maximumEventSizeBytes = 1024 * 1024

// MoverReadyMessage is sent by a pool once a mover has been started.
type MoverReadyMessage struct {
	PoolName  string   `json:"poolName"`
	Addresses []string `json:"addresses"`
	MoverID   int32    `json:"moverId"`
	Handshake []byte   `json:"handshake"`
}

// TransferFinishedMessage is sent by a pool once a mover terminates.
type TransferFinishedMessage struct {
	Handshake  []byte `json:"handshake"`
	ReturnCode int32  `json:"returnCode"`
	Message    string `json:"message,omitempty"`
}

type moverEventService struct {
	handler layout.MoverEventHandler
	queue   *DispatchQueue
}

// NewMoverEventService registers HTTP handlers for events sent by pools
// on a router. Events are validated synchronously, but processed
// asynchronously through a DispatchQueue. This means that pools
// receive an acknowledgement before the event is processed.
func NewMoverEventService(handler layout.MoverEventHandler, queue *DispatchQueue, router *mux.Router) {
	s := &moverEventService{
		handler: handler,
		queue:   queue,
	}
	router.HandleFunc("/v1/movers/ready", s.handleMoverReady).Methods(http.MethodPost)
	router.HandleFunc("/v1/transfers/finished", s.handleTransferFinished).Methods(http.MethodPost)
}

func decodeMessage(req *http.Request, message any) error {
	decoder := json.NewDecoder(io.LimitReader(req.Body, maximumEventSizeBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(message); err != nil {
		return util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to unmarshal message")
	}
	return nil
}

func (s *moverEventService) dispatch(w http.ResponseWriter, description string, event func(ctx context.Context) error) {
	if !s.queue.TryEnqueue(func(ctx context.Context) {
		if err := event(ctx); err != nil {
			log.Printf("Failed to process %s: %s", description, err)
		}
	}) {
		WriteError(w, status.Error(codes.Unavailable, "Too many events are queued for processing"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *moverEventService) handleMoverReady(w http.ResponseWriter, req *http.Request) {
	var message MoverReadyMessage
	if err := decodeMessage(req, &message); err != nil {
		WriteError(w, err)
		return
	}
	if message.PoolName == "" {
		WriteError(w, status.Error(codes.InvalidArgument, "No pool name provided"))
		return
	}
	addresses := make([]netip.AddrPort, 0, len(message.Addresses))
	for _, address := range message.Addresses {
		parsedAddress, err := netip.ParseAddrPort(address)
		if err != nil {
			WriteError(w, util.StatusWrapfWithCode(err, codes.InvalidArgument, "Invalid address %#v", address))
			return
		}
		addresses = append(addresses, parsedAddress)
	}

	event := &layout.MoverReadyEvent{
		PoolName:  message.PoolName,
		Addresses: addresses,
		MoverID:   layout.MoverID(message.MoverID),
		Handshake: message.Handshake,
	}
	s.dispatch(w, "mover ready event of pool "+message.PoolName, func(ctx context.Context) error {
		return s.handler.MoverReady(ctx, event)
	})
}

func (s *moverEventService) handleTransferFinished(w http.ResponseWriter, req *http.Request) {
	var message TransferFinishedMessage
	if err := decodeMessage(req, &message); err != nil {
		WriteError(w, err)
		return
	}

	event := &layout.TransferFinishedEvent{
		Handshake:  message.Handshake,
		ReturnCode: message.ReturnCode,
		Message:    message.Message,
	}
	s.dispatch(w, "transfer finished event", func(ctx context.Context) error {
		return s.handler.TransferFinished(ctx, event)
	})
}
