package door

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/buildbarn/bb-pnfs-door/pkg/layout"
	"github.com/buildbarn/bb-pnfs-door/pkg/messaging"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/buildbarn/go-xdr/pkg/protocols/nfsv4"
	"github.com/gorilla/mux"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Upper bound on the size of requests sent by the protocol layer.
const maximumRequestSizeBytes = 64 * 1024

// StateID is the JSON representation of an NFSv4 stateid4.
type StateID struct {
	Seqid uint32 `json:"seqid"`
	Other []byte `json:"other"`
}

func newStateID(stateID nfsv4.Stateid4) StateID {
	return StateID{
		Seqid: uint32(stateID.Seqid),
		Other: stateID.Other[:],
	}
}

func (m *StateID) toStateid4() (nfsv4.Stateid4, error) {
	stateID := nfsv4.Stateid4{Seqid: nfsv4.Seqid4(m.Seqid)}
	if len(m.Other) != len(stateID.Other) {
		return nfsv4.Stateid4{}, status.Errorf(codes.InvalidArgument, "Opaque part of state ID is %d bytes in size, while %d bytes were expected", len(m.Other), len(stateID.Other))
	}
	copy(stateID.Other[:], m.Other)
	return stateID, nil
}

// LayoutGetRequest is sent by the protocol layer for every LAYOUTGET
// operation received from a client.
type LayoutGetRequest struct {
	StateID    StateID `json:"stateId"`
	FileID     string  `json:"fileId"`
	FileHandle []byte  `json:"fileHandle"`
	Regular    bool    `json:"regular"`
	IOMode     string  `json:"iomode"`
	// ClientAddress is the address of the NFS client. If omitted,
	// the address of the peer of the HTTP connection is used.
	ClientAddress string `json:"clientAddress,omitempty"`
}

// LayoutSegment is the JSON representation of a layout segment. The
// body contains the XDR encoded nfsv4_1_file_layout4.
type LayoutSegment struct {
	DeviceID uint32 `json:"deviceId"`
	IOMode   string `json:"iomode"`
	Offset   uint64 `json:"offset"`
	Length   uint64 `json:"length"`
	Body     []byte `json:"body"`
}

// LayoutGetResponse is returned for LayoutGetRequest.
type LayoutGetResponse struct {
	Status        string          `json:"status"`
	Message       string          `json:"message,omitempty"`
	StateID       *StateID        `json:"stateId,omitempty"`
	ReturnOnClose bool            `json:"returnOnClose,omitempty"`
	Segments      []LayoutSegment `json:"segments,omitempty"`
}

// LayoutReturnRequest is sent by the protocol layer for every
// LAYOUTRETURN operation received from a client.
type LayoutReturnRequest struct {
	StateID StateID `json:"stateId"`
}

// StatusResponse is returned for requests that yield no other data.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// GetDeviceListResponse is returned by GETDEVICELIST.
type GetDeviceListResponse struct {
	Status    string   `json:"status"`
	Message   string   `json:"message,omitempty"`
	DeviceIDs []uint32 `json:"deviceIds,omitempty"`
}

// GetDeviceInfoResponse is returned by GETDEVICEINFO. The device
// address contains the XDR encoded nfsv4_1_file_layout_ds_addr4.
type GetDeviceInfoResponse struct {
	Status        string   `json:"status"`
	Message       string   `json:"message,omitempty"`
	DeviceID      uint32   `json:"deviceId,omitempty"`
	PoolName      string   `json:"poolName,omitempty"`
	Addresses     []string `json:"addresses,omitempty"`
	DeviceAddress []byte   `json:"deviceAddress,omitempty"`
}

func statusName(err error) string {
	if name, ok := nfsv4.Nfsstat4_name[layout.ErrorToNfsstat4(err)]; ok {
		return name
	}
	return "NFS4ERR_SERVERFAULT"
}

func parseIOMode(s string) (layout.IOMode, error) {
	switch s {
	case "READ":
		return layout.IOModeRead, nil
	case "RW":
		return layout.IOModeReadWrite, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "Invalid I/O mode %#v", s)
	}
}

func addrPortFromNetAddr(addr net.Addr) (netip.AddrPort, bool) {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.AddrPort(), true
	}
	return netip.AddrPort{}, false
}

type layoutService struct {
	broker         layout.LayoutBroker
	clock          clock.Clock
	requestTimeout time.Duration
}

// NewLayoutService registers HTTP handlers on a router that expose the
// operations of a LayoutBroker to the protocol layer that terminates
// NFSv4.1 connections of clients. Requests and responses are JSON
// encoded. Every response carries the name of the NFSv4 status code
// that should be returned to the client.
//
// The request timeout bounds the duration of a single LAYOUTGET. It
// needs to exceed the reply timeout of the broker, so that clients are
// told to try again later, as opposed to receiving an I/O error.
func NewLayoutService(broker layout.LayoutBroker, clock clock.Clock, requestTimeout time.Duration, router *mux.Router) {
	s := &layoutService{
		broker:         broker,
		clock:          clock,
		requestTimeout: requestTimeout,
	}
	router.HandleFunc("/v1/layoutget", s.handleLayoutGet).Methods(http.MethodPost)
	router.HandleFunc("/v1/layoutreturn", s.handleLayoutReturn).Methods(http.MethodPost)
	router.HandleFunc("/v1/devices", s.handleGetDeviceList).Methods(http.MethodGet)
	router.HandleFunc("/v1/devices/{deviceId}", s.handleGetDeviceInfo).Methods(http.MethodGet)
}

func writeResponse(w http.ResponseWriter, err error, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(messaging.HTTPStatusFromCode(status.Code(err)))
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Print("Failed to write response: ", err)
	}
}

func decodeRequest(req *http.Request, request any) error {
	decoder := json.NewDecoder(io.LimitReader(req.Body, maximumRequestSizeBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(request); err != nil {
		return util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to unmarshal request")
	}
	return nil
}

// decodeLayoutRequest converts the arguments of LAYOUTGET to the form
// used by the broker.
func decodeLayoutRequest(req *http.Request) (*layout.LayoutRequest, error) {
	var message LayoutGetRequest
	if err := decodeRequest(req, &message); err != nil {
		return nil, err
	}
	stateID, err := message.StateID.toStateid4()
	if err != nil {
		return nil, err
	}
	ioMode, err := parseIOMode(message.IOMode)
	if err != nil {
		return nil, err
	}
	if message.Regular && message.FileID == "" {
		return nil, status.Error(codes.InvalidArgument, "No file ID provided")
	}

	var clientAddress netip.AddrPort
	if message.ClientAddress != "" {
		clientAddress, err = netip.ParseAddrPort(message.ClientAddress)
		if err != nil {
			return nil, util.StatusWrapfWithCode(err, codes.InvalidArgument, "Invalid client address %#v", message.ClientAddress)
		}
	} else if clientAddress, err = netip.ParseAddrPort(req.RemoteAddr); err != nil {
		return nil, util.StatusWrapfWithCode(err, codes.InvalidArgument, "Invalid remote address %#v", req.RemoteAddr)
	}

	return &layout.LayoutRequest{
		File: layout.FileRef{
			FileID:     message.FileID,
			FileHandle: message.FileHandle,
			Regular:    message.Regular,
		},
		IOMode:        ioMode,
		ClientAddress: clientAddress,
		StateID:       stateID,
	}, nil
}

// encodeLayout converts a layout returned by the broker to its JSON
// representation.
func encodeLayout(l *layout.Layout) *LayoutGetResponse {
	stateID := newStateID(l.StateID)
	response := &LayoutGetResponse{
		Status:        statusName(nil),
		StateID:       &stateID,
		ReturnOnClose: l.ReturnOnClose,
		Segments:      make([]LayoutSegment, 0, len(l.Segments)),
	}
	for i := range l.Segments {
		segment := &l.Segments[i]
		response.Segments = append(response.Segments, LayoutSegment{
			DeviceID: uint32(segment.DeviceID),
			IOMode:   segment.IOMode.String(),
			Offset:   segment.Offset,
			Length:   segment.Length,
			Body:     segment.Body(),
		})
	}
	return response
}

func (s *layoutService) handleLayoutGet(w http.ResponseWriter, req *http.Request) {
	request, err := decodeLayoutRequest(req)
	if err != nil {
		writeResponse(w, err, &LayoutGetResponse{Status: statusName(err), Message: err.Error()})
		return
	}

	ctx, cancel := s.clock.NewContextWithTimeout(req.Context(), s.requestTimeout)
	defer cancel()
	l, err := s.broker.LayoutGet(ctx, request)
	if err != nil {
		writeResponse(w, err, &LayoutGetResponse{Status: statusName(err), Message: err.Error()})
		return
	}
	writeResponse(w, nil, encodeLayout(l))
}

func (s *layoutService) handleLayoutReturn(w http.ResponseWriter, req *http.Request) {
	var message LayoutReturnRequest
	err := decodeRequest(req, &message)
	if err == nil {
		var stateID nfsv4.Stateid4
		if stateID, err = message.StateID.toStateid4(); err == nil {
			err = s.broker.LayoutReturn(req.Context(), stateID)
		}
	}
	response := StatusResponse{Status: statusName(err)}
	if err != nil {
		response.Message = err.Error()
	}
	writeResponse(w, err, &response)
}

func (s *layoutService) handleGetDeviceList(w http.ResponseWriter, req *http.Request) {
	deviceIDs, err := s.broker.GetDeviceList(req.Context())
	if err != nil {
		writeResponse(w, err, &GetDeviceListResponse{Status: statusName(err), Message: err.Error()})
		return
	}
	response := GetDeviceListResponse{
		Status:    statusName(nil),
		DeviceIDs: make([]uint32, 0, len(deviceIDs)),
	}
	for _, deviceID := range deviceIDs {
		response.DeviceIDs = append(response.DeviceIDs, uint32(deviceID))
	}
	writeResponse(w, nil, &response)
}

func (s *layoutService) getDeviceInfo(ctx context.Context, req *http.Request) (*layout.PoolEndpoint, error) {
	deviceIDParameter := mux.Vars(req)["deviceId"]
	deviceID, err := strconv.ParseUint(deviceIDParameter, 10, 32)
	if err != nil {
		return nil, util.StatusWrapfWithCode(err, codes.InvalidArgument, "Invalid device ID %#v", deviceIDParameter)
	}
	// Device ID zero refers to the door itself. Announce the
	// address on which the request was received.
	var localAddress netip.AddrPort
	if addr, ok := req.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		localAddress, _ = addrPortFromNetAddr(addr)
	}
	return s.broker.GetDeviceInfo(ctx, layout.DeviceID(deviceID), localAddress)
}

func (s *layoutService) handleGetDeviceInfo(w http.ResponseWriter, req *http.Request) {
	endpoint, err := s.getDeviceInfo(req.Context(), req)
	if err != nil {
		writeResponse(w, err, &GetDeviceInfoResponse{Status: statusName(err), Message: err.Error()})
		return
	}
	response := GetDeviceInfoResponse{
		Status:        statusName(nil),
		DeviceID:      uint32(endpoint.DeviceID()),
		PoolName:      endpoint.PoolName(),
		DeviceAddress: endpoint.DeviceAddress(),
	}
	for _, address := range endpoint.Addresses() {
		response.Addresses = append(response.Addresses, address.String())
	}
	writeResponse(w, nil, &response)
}
