package grpc

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-donations/app/mapper"
	"github.com/vibast-solutions/ms-go-donations/app/service"
	"github.com/vibast-solutions/ms-go-donations/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "donations.v1.DonationsService"

// DonationsServer is the gRPC surface. Messages are protobuf well-known types
// so no generated code is needed; the struct fields match the HTTP JSON bodies.
type DonationsServer interface {
	Health(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	GetDonation(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	CreateCheckout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	donationService *service.DonationService
	environment     string
}

func NewServer(donationService *service.DonationService, environment string) *Server {
	return &Server{donationService: donationService, environment: environment}
}

func (s *Server) Health(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	providerCodes := s.donationService.Providers()
	providers := make([]interface{}, 0, len(providerCodes))
	for _, code := range providerCodes {
		providers = append(providers, string(code))
	}

	return structpb.NewStruct(map[string]interface{}{
		"status":      "ok",
		"environment": s.environment,
		"providers":   providers,
	})
}

func (s *Server) GetDonation(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	getReq := &types.GetDonationRequest{ID: req.GetValue()}
	if err := getReq.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.donationService.GetDonation(ctx, getReq.GetId())
	if err != nil {
		if errors.Is(err, service.ErrDonationNotFound) {
			return nil, status.Error(codes.NotFound, "donation not found")
		}
		loggerWithContext(ctx).WithError(err).Error("Get donation failed")
		return nil, status.Error(codes.Internal, "internal server error")
	}

	resp, err := mapper.DonationToStruct(item)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return resp, nil
}

func (s *Server) CreateCheckout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	l := loggerWithContext(ctx)

	checkoutReq, err := types.NewCreateCheckoutRequestFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request body")
	}
	if err := checkoutReq.Validate(); err != nil {
		l.WithError(err).Debug("Checkout validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.donationService.CreateCheckout(ctx, checkoutReq)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, service.ErrIdempotencyConflict):
			return nil, status.Error(codes.AlreadyExists, err.Error())
		case errors.Is(err, service.ErrProviderUnavailable):
			l.WithError(err).Error("Checkout creation failed")
			return nil, status.Error(codes.Unavailable, "payment provider is unavailable")
		default:
			l.WithError(err).Error("Checkout creation failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	resp, err := mapper.CheckoutToStruct(result.Donation)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return resp, nil
}

func RegisterDonationsServer(registrar grpc.ServiceRegistrar, srv DonationsServer) {
	registrar.RegisterService(&donationsServiceDesc, srv)
}

var donationsServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DonationsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: healthHandler},
		{MethodName: "GetDonation", Handler: getDonationHandler},
		{MethodName: "CreateCheckout", Handler: createCheckoutHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "donations/v1/donations.proto",
}

func healthHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DonationsServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Health"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DonationsServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getDonationHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DonationsServer).GetDonation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetDonation"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DonationsServer).GetDonation(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func createCheckoutHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DonationsServer).CreateCheckout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/CreateCheckout"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DonationsServer).CreateCheckout(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
