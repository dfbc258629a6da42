package messaging

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/buildbarn/bb-pnfs-door/pkg/layout"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"
)

// SelectPoolRequest is sent to the pool manager to start a mover.
type SelectPoolRequest struct {
	TransferID    uuid.UUID `json:"transferId"`
	FileID        string    `json:"fileId"`
	FileHandle    []byte    `json:"fileHandle"`
	Write         bool      `json:"write"`
	StorageClass  string    `json:"storageClass,omitempty"`
	HSM           string    `json:"hsm,omitempty"`
	SizeBytes     uint64    `json:"sizeBytes"`
	IOQueue       string    `json:"ioQueue,omitempty"`
	ClientAddress string    `json:"clientAddress"`
	// Handshake is returned unmodified as part of mover events.
	Handshake   []byte `json:"handshake"`
	CallbackURL string `json:"callbackUrl"`
}

// KillMoverRequest is sent to a pool to terminate a mover.
type KillMoverRequest struct {
	Reason string `json:"reason"`
}

type httpPoolGateway struct {
	client          jsonClient
	selectURL       string
	poolURLTemplate string
	callbackURL     string
	ioQueue         string
}

// NewHTTPPoolGateway creates a PoolGateway that sends requests to the
// pool manager and to pools over HTTP. The URL of a pool is obtained
// by substituting its name into poolURLTemplate.
func NewHTTPPoolGateway(client *http.Client, poolManagerURL *url.URL, poolURLTemplate string, callbackURL *url.URL, ioQueue string) layout.PoolGateway {
	return &httpPoolGateway{
		client:          jsonClient{client: client},
		selectURL:       poolManagerURL.JoinPath("v1", "select").String(),
		poolURLTemplate: poolURLTemplate,
		callbackURL:     callbackURL.String(),
		ioQueue:         ioQueue,
	}
}

func (pg *httpPoolGateway) SelectPoolAndStartMover(ctx context.Context, request *layout.MoverRequest) error {
	selectRequest := SelectPoolRequest{
		TransferID:    request.TransferID,
		FileID:        request.File.FileID,
		FileHandle:    request.File.FileHandle,
		Write:         request.Write,
		IOQueue:       pg.ioQueue,
		ClientAddress: request.ClientAddress.String(),
		Handshake:     request.Handshake,
		CallbackURL:   pg.callbackURL,
	}
	if placement := request.Placement; placement != nil {
		selectRequest.StorageClass = placement.StorageClass
		selectRequest.HSM = placement.HSM
		selectRequest.SizeBytes = placement.SizeBytes
	}
	if err := pg.client.do(ctx, http.MethodPost, pg.selectURL, &selectRequest, nil); err != nil {
		return util.StatusWrapf(err, "Pool manager rejected transfer %s", request.TransferID)
	}
	return nil
}

func (pg *httpPoolGateway) KillMover(ctx context.Context, poolName string, moverID layout.MoverID, reason string) error {
	poolURL, err := url.Parse(fmt.Sprintf(pg.poolURLTemplate, url.PathEscape(poolName)))
	if err != nil {
		return util.StatusWrapf(err, "Invalid URL for pool %#v", poolName)
	}
	killURL := poolURL.JoinPath("v1", "movers", strconv.FormatInt(int64(moverID), 10), "kill").String()
	return pg.client.do(ctx, http.MethodPost, killURL, &KillMoverRequest{Reason: reason}, nil)
}
