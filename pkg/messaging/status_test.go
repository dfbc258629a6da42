package messaging_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/buildbarn/bb-pnfs-door/pkg/messaging"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWriteErrorRoundTrip(t *testing.T) {
	recorder := httptest.NewRecorder()
	messaging.WriteError(recorder, status.Error(codes.Unavailable, "No pools online"))

	resp := recorder.Result()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	testutil.RequireEqualStatus(t, status.Error(codes.Unavailable, "No pools online"), messaging.ErrorFromResponse(resp))
}

func TestErrorFromResponsePlainBody(t *testing.T) {
	// Errors generated by proxies don't carry a google.rpc.Status.
	// The code is derived from the HTTP status code instead.
	recorder := httptest.NewRecorder()
	http.Error(recorder, "upstream connect error", http.StatusBadGateway)

	err := messaging.ErrorFromResponse(recorder.Result())
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.True(t, strings.HasPrefix(status.Convert(err).Message(), "HTTP 502: upstream connect error"))
}

func TestHTTPStatusFromCode(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, messaging.HTTPStatusFromCode(codes.InvalidArgument))
	require.Equal(t, http.StatusNotFound, messaging.HTTPStatusFromCode(codes.NotFound))
	require.Equal(t, http.StatusTooManyRequests, messaging.HTTPStatusFromCode(codes.ResourceExhausted))
	require.Equal(t, http.StatusInternalServerError, messaging.HTTPStatusFromCode(codes.Internal))
}
