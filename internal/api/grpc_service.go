package api

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/auth"
	"staybook/internal/domain"
	"staybook/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	availabilityServiceName = "staybook.availability.v1.AvailabilityService"
	methodResolveRange      = "/" + availabilityServiceName + "/ResolveRange"
	methodGetBooking        = "/" + availabilityServiceName + "/GetBooking"
)

// partnerServer is the handler type of the partner gRPC service. Messages are
// google.protobuf.Struct so integrations need no generated stubs.
type partnerServer interface {
	ResolveRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*partnerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ResolveRange", Handler: unaryHandler(methodResolveRange, partnerServer.ResolveRange)},
		{MethodName: "GetBooking", Handler: unaryHandler(methodGetBooking, partnerServer.GetBooking)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "staybook/availability/v1/availability.proto",
}

func unaryHandler(
	fullMethod string,
	call func(partnerServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(partnerServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		})
	}
}

// PartnerService serves availability lookups for channel partners.
type PartnerService struct {
	availability domain.AvailabilityService
	bookings     domain.BookingService
}

func NewPartnerService(availability domain.AvailabilityService, bookings domain.BookingService) *PartnerService {
	return &PartnerService{availability: availability, bookings: bookings}
}

func intField(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%s is required: %w", name, domain.ErrInvalidInput)
	}
	n := v.GetNumberValue()
	if n <= 0 || n != float64(int64(n)) {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, domain.ErrInvalidInput)
	}
	return int64(n), nil
}

func dayField(req *structpb.Struct, name string) (time.Time, error) {
	return parseDay(req.GetFields()[name].GetStringValue(), name)
}

func (s *PartnerService) ResolveRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	propertyID, err := intField(req, "property_id")
	if err != nil {
		return nil, grpcError(err)
	}
	start, err := dayField(req, "start")
	if err != nil {
		return nil, grpcError(err)
	}
	end, err := dayField(req, "end")
	if err != nil {
		return nil, grpcError(err)
	}

	res, err := s.availability.ResolveRange(ctx, propertyID, start, end)
	if err != nil {
		return nil, grpcError(err)
	}

	perDay := make([]any, 0, len(res.PerDay))
	for _, d := range res.PerDay {
		perDay = append(perDay, map[string]any{
			"date":   d.Date.Format(models.DateLayout),
			"status": string(d.Status),
			"reason": d.Reason,
			"price":  d.Price,
		})
	}
	violated := make([]any, 0, len(res.ViolatedConstraints))
	for _, c := range res.ViolatedConstraints {
		violated = append(violated, c)
	}

	out, err := structpb.NewStruct(map[string]any{
		"property_id":          res.PropertyID,
		"start":                res.StartDate.Format(models.DateLayout),
		"end":                  res.EndDate.Format(models.DateLayout),
		"is_available":         res.IsAvailable,
		"subtotal":             res.Subtotal(),
		"per_day":              perDay,
		"violated_constraints": violated,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return out, nil
}

func (s *PartnerService) GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, grpcError(auth.ErrMissingToken)
	}
	bookingID, err := intField(req, "booking_id")
	if err != nil {
		return nil, grpcError(err)
	}

	b, err := s.bookings.GetBooking(ctx, bookingID, actor)
	if err != nil {
		return nil, grpcError(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"id":             b.ID,
		"booking_number": b.BookingNumber,
		"property_id":    b.PropertyID,
		"start":          b.StartDate.Format(models.DateLayout),
		"end":            b.EndDate.Format(models.DateLayout),
		"nights":         b.TotalDays,
		"total_amount":   b.TotalAmount,
		"currency":       b.Currency,
		"status":         string(b.Status),
		"payment_status": string(b.PaymentStatus),
		"version":        b.Version,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return out, nil
}
