package messaging

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/buildbarn/bb-pnfs-door/pkg/layout"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	transferOutcomeRecorderPrometheusMetrics sync.Once

	transferOutcomeRecorderRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "pnfs",
			Name:      "transfer_outcome_recorder_records_total",
			Help:      "Number of transfer outcomes sent to the accounting service, by result.",
		},
		[]string{"result"})
	transferOutcomeRecorderRecordsDelivered = transferOutcomeRecorderRecords.WithLabelValues("Delivered")
	transferOutcomeRecorderRecordsFailed    = transferOutcomeRecorderRecords.WithLabelValues("Failed")
	transferOutcomeRecorderRecordsDropped   = transferOutcomeRecorderRecords.WithLabelValues("Dropped")
)

// TransferRecord is the message that is sent to the accounting service
// for every transfer that terminates.
type TransferRecord struct {
	TransferID    uuid.UUID `json:"transferId"`
	StateID       string    `json:"stateId"`
	FileID        string    `json:"fileId"`
	PoolName      string    `json:"poolName,omitempty"`
	MoverID       int32     `json:"moverId,omitempty"`
	ClientAddress string    `json:"clientAddress"`
	Write         bool      `json:"write"`
	ReturnCode    int32     `json:"returnCode"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newTransferRecord(outcome *layout.TransferOutcome) *TransferRecord {
	session := &outcome.Session
	record := &TransferRecord{
		TransferID:    session.TransferID,
		StateID:       layout.FormatStateID(session.StateID),
		FileID:        session.File.FileID,
		PoolName:      session.PoolName(),
		ClientAddress: session.ClientAddress.String(),
		Write:         session.Write,
		ReturnCode:    outcome.ReturnCode,
		Message:       outcome.Message,
		CreatedAt:     session.CreatedAt,
	}
	if session.HasMover() {
		record.MoverID = int32(session.MoverID)
	}
	return record
}

type httpTransferOutcomeRecorder struct {
	client     jsonClient
	billingURL string
	deliveries *semaphore.Weighted
}

// NewHTTPTransferOutcomeRecorder creates a TransferOutcomeRecorder
// that posts transfer records to an accounting service. Records are
// delivered asynchronously. If the number of records that are being
// delivered exceeds the provided concurrency, new records are dropped.
func NewHTTPTransferOutcomeRecorder(client *http.Client, billingURL *url.URL, concurrency int64) layout.TransferOutcomeRecorder {
	transferOutcomeRecorderPrometheusMetrics.Do(func() {
		prometheus.MustRegister(transferOutcomeRecorderRecords)
	})

	return &httpTransferOutcomeRecorder{
		client:     jsonClient{client: client},
		billingURL: billingURL.JoinPath("v1", "transfers").String(),
		deliveries: semaphore.NewWeighted(concurrency),
	}
}

func (r *httpTransferOutcomeRecorder) RecordTransferOutcome(ctx context.Context, outcome *layout.TransferOutcome) error {
	if !r.deliveries.TryAcquire(1) {
		transferOutcomeRecorderRecordsDropped.Inc()
		return status.Errorf(codes.ResourceExhausted, "Too many transfer records are being delivered, dropping record for transfer %s", outcome.Session.TransferID)
	}

	record := newTransferRecord(outcome)
	ctxWithoutCancel := context.WithoutCancel(ctx)
	go func() {
		defer r.deliveries.Release(1)
		if err := r.client.do(ctxWithoutCancel, http.MethodPost, r.billingURL, record, nil); err != nil {
			transferOutcomeRecorderRecordsFailed.Inc()
			log.Printf("Failed to deliver record for transfer %s: %s", record.TransferID, err)
			return
		}
		transferOutcomeRecorderRecordsDelivered.Inc()
	}()
	return nil
}

type loggingTransferOutcomeRecorder struct{}

// NewLoggingTransferOutcomeRecorder creates a TransferOutcomeRecorder
// that only writes transfer records to the log. It is used when no
// accounting service is configured.
func NewLoggingTransferOutcomeRecorder() layout.TransferOutcomeRecorder {
	return loggingTransferOutcomeRecorder{}
}

func (loggingTransferOutcomeRecorder) RecordTransferOutcome(ctx context.Context, outcome *layout.TransferOutcome) error {
	record := newTransferRecord(outcome)
	log.Printf("Transfer %s of file %#v on pool %#v finished with return code %d: %s", record.TransferID, record.FileID, record.PoolName, record.ReturnCode, record.Message)
	return nil
}
