package messaging

import (
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/buildbarn/bb-storage/pkg/util"

	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
)

// Upper bound on the size of error bodies that are parsed.
const maximumStatusBodySizeBytes = 64 * 1024

// HTTPStatusFromCode converts a gRPC status code to the HTTP status
// code with which errors are returned by the HTTP services of the door
// and its peers.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// codeFromHTTPStatus is used for error responses that don't carry a
// google.rpc.Status message, such as those generated by proxies.
func codeFromHTTPStatus(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusPreconditionFailed:
		return codes.FailedPrecondition
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Unknown
	}
}

// WriteError writes an error to an HTTP response, using a
// google.rpc.Status message as the body.
func WriteError(w http.ResponseWriter, err error) {
	body, marshalErr := protojson.Marshal(status.Convert(err).Proto())
	if marshalErr != nil {
		log.Print("Failed to marshal status: ", marshalErr)
		http.Error(w, err.Error(), HTTPStatusFromCode(status.Code(err)))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatusFromCode(status.Code(err)))
	w.Write(body)
}

// ErrorFromResponse converts an HTTP response with a non-2xx status
// code back to the error that was written with WriteError().
func ErrorFromResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maximumStatusBodySizeBytes))
	if err != nil {
		return util.StatusWrapfWithCode(err, codes.Unavailable, "Failed to read body of HTTP %d response", resp.StatusCode)
	}
	var s rpcstatus.Status
	if err := protojson.Unmarshal(body, &s); err != nil || s.Code == int32(codes.OK) {
		return status.Error(codeFromHTTPStatus(resp.StatusCode), fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body))
	}
	return status.ErrorProto(&s)
}
