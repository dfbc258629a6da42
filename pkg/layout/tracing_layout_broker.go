package layout

import (
	"context"
	"net/netip"

	"github.com/buildbarn/go-xdr/pkg/protocols/nfsv4"

	"go.opentelemetry.io/otel/attribute"
	otel_codes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type tracingLayoutBroker struct {
	LayoutBroker
	tracer trace.Tracer
}

// NewTracingLayoutBroker is a decorator for LayoutBroker that creates
// an OpenTelemetry trace span for every operation. Spans of LAYOUTGET
// cover the time spent waiting for movers to start.
func NewTracingLayoutBroker(base LayoutBroker, tracerProvider trace.TracerProvider) LayoutBroker {
	return &tracingLayoutBroker{
		LayoutBroker: base,
		tracer:       tracerProvider.Tracer("github.com/buildbarn/bb-pnfs-door/pkg/layout"),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otel_codes.Error, err.Error())
	}
	span.End()
}

func (lb *tracingLayoutBroker) LayoutGet(ctx context.Context, request *LayoutRequest) (*Layout, error) {
	ctxWithTracing, span := lb.tracer.Start(ctx, "LayoutBroker.LayoutGet", trace.WithAttributes(
		attribute.String("state_id", FormatStateID(request.StateID)),
		attribute.String("file_id", request.File.FileID),
		attribute.Bool("regular", request.File.Regular),
		attribute.String("iomode", request.IOMode.String()),
		attribute.String("client_address", request.ClientAddress.String()),
	))
	layout, err := lb.LayoutBroker.LayoutGet(ctxWithTracing, request)
	if err == nil {
		for _, segment := range layout.Segments {
			span.AddEvent("Segment", trace.WithAttributes(attribute.Int64("device_id", int64(segment.DeviceID))))
		}
	}
	endSpan(span, err)
	return layout, err
}

func (lb *tracingLayoutBroker) LayoutReturn(ctx context.Context, stateID nfsv4.Stateid4) error {
	ctxWithTracing, span := lb.tracer.Start(ctx, "LayoutBroker.LayoutReturn", trace.WithAttributes(
		attribute.String("state_id", FormatStateID(stateID)),
	))
	err := lb.LayoutBroker.LayoutReturn(ctxWithTracing, stateID)
	endSpan(span, err)
	return err
}

func (lb *tracingLayoutBroker) GetDeviceInfo(ctx context.Context, deviceID DeviceID, localAddress netip.AddrPort) (*PoolEndpoint, error) {
	ctxWithTracing, span := lb.tracer.Start(ctx, "LayoutBroker.GetDeviceInfo", trace.WithAttributes(
		attribute.Int64("device_id", int64(deviceID)),
	))
	endpoint, err := lb.LayoutBroker.GetDeviceInfo(ctxWithTracing, deviceID, localAddress)
	endSpan(span, err)
	return endpoint, err
}
