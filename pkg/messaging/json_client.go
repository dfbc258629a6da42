package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
)

// jsonClient exchanges JSON messages with peers over HTTP. Transport
// failures are reported as UNAVAILABLE. Errors returned by peers are
// converted back to the status they were generated from.
type jsonClient struct {
	client *http.Client
}

func (c *jsonClient) do(ctx context.Context, method, url string, request, response any) error {
	var body bytes.Buffer
	if request != nil {
		if err := json.NewEncoder(&body).Encode(request); err != nil {
			return util.StatusWrapWithCode(err, codes.Internal, "Failed to marshal request")
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &body)
	if err != nil {
		return util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to create request")
	}
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := util.StatusFromContext(ctx); ctxErr != nil {
			return ctxErr
		}
		return util.StatusWrapWithCode(err, codes.Unavailable, "Failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorFromResponse(resp)
	}
	if response != nil {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return util.StatusWrapWithCode(err, codes.Unavailable, "Failed to unmarshal response")
		}
	}
	return nil
}
