// Package services implements the gRPC charge service. Messages are
// google.protobuf.Struct values carrying the JSON shapes of pkg/types/charge,
// so clients need no generated stubs.
package services

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/pkg/errors"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

const ServiceName = "chargeassign.v1.ChargeService"

const (
	ChargeMethod        = "/" + ServiceName + "/Charge"
	ChargeBatchMethod   = "/" + ServiceName + "/ChargeBatch"
	GetRepositoryMethod = "/" + ServiceName + "/GetRepository"
)

// ErrorCodeKey is the trailer carrying the service error code of a failed call.
const ErrorCodeKey = "x-error-code"

// Charger is the part of charging.Service the gRPC service needs.
type Charger interface {
	ChargeWire(ctx context.Context, req *charge.Request) (*charge.Response, error)
	ChargeBatchWire(ctx context.Context, reqs []charge.Request) *charge.BatchResponse
	Repository() *candidate.Repository
}

// ChargeServiceServer is the server API of chargeassign.v1.ChargeService.
type ChargeServiceServer interface {
	Charge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChargeBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRepository(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// ChargeService serves charge requests over gRPC.
type ChargeService struct {
	charger  Charger
	maxBatch int
	logger   logging.Logger
}

var _ ChargeServiceServer = (*ChargeService)(nil)

// NewChargeService returns the service. maxBatch <= 0 leaves batches unbounded.
func NewChargeService(charger Charger, maxBatch int, logger logging.Logger) *ChargeService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ChargeService{charger: charger, maxBatch: maxBatch, logger: logger}
}

func (s *ChargeService) Charge(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req charge.Request
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.charger.ChargeWire(ctx, &req)
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return toStruct(resp)
}

func (s *ChargeService) ChargeBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req charge.BatchRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(req.Molecules) == 0 {
		return nil, status.Error(codes.InvalidArgument, "molecules is required")
	}
	if s.maxBatch > 0 && len(req.Molecules) > s.maxBatch {
		return nil, status.Errorf(codes.InvalidArgument, "batch of %d exceeds limit %d", len(req.Molecules), s.maxBatch)
	}
	return toStruct(s.charger.ChargeBatchWire(ctx, req.Molecules))
}

func (s *ChargeService) GetRepository(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	repo := s.charger.Repository()
	if repo == nil {
		return nil, s.statusError(ctx, errors.New(errors.ErrCodeRepositoryUnavailable, "no repository loaded"))
	}
	return toStruct(charging.InfoToWire(repo.Info()))
}

func (s *ChargeService) statusError(ctx context.Context, err error) error {
	w := charging.ErrorToWire(err)
	_ = grpc.SetTrailer(ctx, metadata.Pairs(ErrorCodeKey, w.Code))
	code := GRPCCode(errors.ErrorCode(w.Code))
	if code == codes.Internal {
		s.logger.Error("charge failed", logging.Err(err))
	}
	return status.Error(code, w.Error())
}

// GRPCCode maps a service error code onto a gRPC status code.
func GRPCCode(code errors.ErrorCode) codes.Code {
	switch code {
	case errors.CodeOK:
		return codes.OK
	case errors.CodeInvalidGraph, errors.CodeInvalidParam, errors.ErrCodeMoleculeFormat, errors.ErrCodeValidation:
		return codes.InvalidArgument
	case errors.CodeUnknownFragment, errors.CodeInfeasible, errors.CodeSearchExhausted, errors.ErrCodeNotFound:
		return codes.NotFound
	case errors.ErrCodeRepositoryUnavailable, errors.ErrCodeServiceUnavailable:
		return codes.Unavailable
	case errors.CodeTimeout:
		return codes.DeadlineExceeded
	case errors.ErrCodeTooManyRequests:
		return codes.ResourceExhausted
	}
	return codes.Internal
}

func fromStruct(in *structpb.Struct, v interface{}) error {
	if in == nil {
		return errors.InvalidParam("request is required")
	}
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Service descriptor and client
// ---------------------------------------------------------------------------

// ChargeServiceDesc describes chargeassign.v1.ChargeService for grpc.Server.
var ChargeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChargeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Charge", Handler: chargeHandler},
		{MethodName: "ChargeBatch", Handler: chargeBatchHandler},
		{MethodName: "GetRepository", Handler: getRepositoryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chargeassign/v1/charge.proto",
}

func chargeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChargeServiceServer).Charge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ChargeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ChargeServiceServer).Charge(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func chargeBatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChargeServiceServer).ChargeBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ChargeBatchMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ChargeServiceServer).ChargeBatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getRepositoryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChargeServiceServer).GetRepository(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetRepositoryMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ChargeServiceServer).GetRepository(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ChargeServiceClient calls chargeassign.v1.ChargeService.
type ChargeServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewChargeServiceClient(cc grpc.ClientConnInterface) *ChargeServiceClient {
	return &ChargeServiceClient{cc: cc}
}

func (c *ChargeServiceClient) Charge(ctx context.Context, req *charge.Request, opts ...grpc.CallOption) (*charge.Response, error) {
	out := new(charge.Response)
	if err := c.invoke(ctx, ChargeMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChargeServiceClient) ChargeBatch(ctx context.Context, req *charge.BatchRequest, opts ...grpc.CallOption) (*charge.BatchResponse, error) {
	out := new(charge.BatchResponse)
	if err := c.invoke(ctx, ChargeBatchMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChargeServiceClient) GetRepository(ctx context.Context, opts ...grpc.CallOption) (*charge.RepositoryInfo, error) {
	in := new(emptypb.Empty)
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetRepositoryMethod, in, out, opts...); err != nil {
		return nil, err
	}
	info := new(charge.RepositoryInfo)
	if err := fromStruct(out, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *ChargeServiceClient) invoke(ctx context.Context, method string, req, resp interface{}, opts ...grpc.CallOption) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return err
	}
	return fromStruct(out, resp)
}
