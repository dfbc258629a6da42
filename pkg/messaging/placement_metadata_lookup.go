package messaging

import (
	"context"
	"net/http"
	"net/url"

	"github.com/buildbarn/bb-pnfs-door/pkg/layout"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PlacementMetadataResponse is returned by the namespace.
type PlacementMetadataResponse struct {
	StorageClass   string `json:"storageClass"`
	HSM            string `json:"hsm"`
	SizeBytes      uint64 `json:"sizeBytes"`
	FreshlyCreated bool   `json:"freshlyCreated"`
}

type httpPlacementMetadataLookup struct {
	client       jsonClient
	namespaceURL *url.URL
}

// NewHTTPPlacementMetadataLookup creates a PlacementMetadataLookup
// that obtains the storage class and state of files from the namespace
// over HTTP.
func NewHTTPPlacementMetadataLookup(client *http.Client, namespaceURL *url.URL) layout.PlacementMetadataLookup {
	return &httpPlacementMetadataLookup{
		client:       jsonClient{client: client},
		namespaceURL: namespaceURL,
	}
}

func (pml *httpPlacementMetadataLookup) LookupPlacementMetadata(ctx context.Context, file *layout.FileRef) (*layout.PlacementMetadata, error) {
	// File IDs are opaque. Dot segments would be removed while
	// joining the path, so they can never name a file.
	switch file.FileID {
	case "", ".", "..":
		return nil, status.Errorf(codes.InvalidArgument, "Invalid file ID %#v", file.FileID)
	}
	var response PlacementMetadataResponse
	if err := pml.client.do(
		ctx,
		http.MethodGet,
		pml.namespaceURL.JoinPath("v1", "files", url.PathEscape(file.FileID), "placement").String(),
		nil,
		&response,
	); err != nil {
		return nil, util.StatusWrapf(err, "Failed to obtain placement metadata for file %#v", file.FileID)
	}
	return &layout.PlacementMetadata{
		StorageClass:   response.StorageClass,
		HSM:            response.HSM,
		SizeBytes:      response.SizeBytes,
		FreshlyCreated: response.FreshlyCreated,
	}, nil
}
