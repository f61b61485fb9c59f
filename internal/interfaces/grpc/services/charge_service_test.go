package services

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/ChargeAssign/internal/config"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
	grpcserver "github.com/turtacn/ChargeAssign/internal/interfaces/grpc"
	"github.com/turtacn/ChargeAssign/internal/testutil"
	"github.com/turtacn/ChargeAssign/internal/testutil/chargetest"
	"github.com/turtacn/ChargeAssign/pkg/errors"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

type ChargeServiceSuite struct {
	suite.Suite
	fx     *chargetest.Fixture
	conn   *grpc.ClientConn
	client *ChargeServiceClient
	scrape func() string
}

func TestChargeServiceSuite(t *testing.T) {
	suite.Run(t, new(ChargeServiceSuite))
}

func (s *ChargeServiceSuite) SetupSuite() {
	s.fx = chargetest.New(s.T())
	s.conn, s.scrape = serve(s.T(), NewChargeService(s.fx.Service, 2, logging.NewNopLogger()))
	s.client = NewChargeServiceClient(s.conn)
}

// serve runs svc on an in-memory listener and returns a connection to it.
func serve(t *testing.T, svc ChargeServiceServer) (*grpc.ClientConn, func() string) {
	t.Helper()
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "test"}, logging.NewNopLogger())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv, err := grpcserver.NewServer(config.GRPCConfig{Debug: true},
		grpcserver.WithListener(lis),
		grpcserver.WithMetrics(prometheus.NewChargeMetrics(collector)))
	require.NoError(t, err)
	srv.RegisterService(&ChargeServiceDesc, svc)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	scrape := func() string {
		w := httptest.NewRecorder()
		collector.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
		return w.Body.String()
	}
	return conn, scrape
}

func (s *ChargeServiceSuite) TestCharge() {
	resp, err := s.client.Charge(context.Background(), &charge.Request{LGF: testutil.UnchargedEthanolLGF})
	s.Require().NoError(err)
	s.InDeltaSlice([]float64{0, 0.266, -0.674, 0.408}, resp.Charges(), 1e-9)
	s.Equal(2, resp.Stats.Shell)
	s.Len(resp.Atoms, 4)
	s.Contains(s.scrape(), `test_grpc_requests_total{code="OK",method="Charge"}`)
}

func (s *ChargeServiceSuite) TestCharge_RawStruct() {
	in, err := structpb.NewStruct(map[string]interface{}{
		"lgf":          testutil.UnchargedEthanolLGF,
		"total_charge": 0,
		"options":      map[string]interface{}{"shells": []interface{}{1}},
	})
	s.Require().NoError(err)
	out := new(structpb.Struct)
	s.Require().NoError(s.conn.Invoke(context.Background(), ChargeMethod, in, out))

	stats := out.Fields["stats"].GetStructValue()
	s.Equal(float64(1), stats.Fields["shell"].GetNumberValue())
	s.Contains(out.Fields["lgf"].GetStringValue(), "partial_charge")
}

func (s *ChargeServiceSuite) TestCharge_UnknownFragment() {
	no := false
	var trailer metadata.MD
	_, err := s.client.Charge(context.Background(), &charge.Request{
		LGF:     testutil.ButanolLGF,
		Options: &charge.Options{FallbackToElements: &no},
	}, grpc.Trailer(&trailer))
	s.Equal(codes.NotFound, status.Code(err))
	s.Equal([]string{errors.CodeUnknownFragment.String()}, trailer.Get(ErrorCodeKey))
}

func (s *ChargeServiceSuite) TestCharge_InvalidArgument() {
	_, err := s.client.Charge(context.Background(), &charge.Request{})
	s.Equal(codes.InvalidArgument, status.Code(err))

	half := 0.5
	_, err = s.client.Charge(context.Background(), &charge.Request{LGF: testutil.UnchargedEthanolLGF, TotalCharge: &half})
	s.Equal(codes.InvalidArgument, status.Code(err))
}

func (s *ChargeServiceSuite) TestChargeBatch() {
	resp, err := s.client.ChargeBatch(context.Background(), &charge.BatchRequest{Molecules: []charge.Request{
		{LGF: testutil.UnchargedEthanolLGF},
		{LGF: "@nodes\nlabel\tatom_type\tpartial_charge\n1\tC\tx\n"},
	}})
	s.Require().NoError(err)
	s.Equal(1, resp.Succeeded)
	s.Equal(1, resp.Failed)
	s.Equal(errors.ErrCodeMoleculeFormat.String(), resp.Items[1].Error.Code)
}

func (s *ChargeServiceSuite) TestChargeBatch_Limits() {
	_, err := s.client.ChargeBatch(context.Background(), &charge.BatchRequest{})
	s.Equal(codes.InvalidArgument, status.Code(err))

	three := make([]charge.Request, 3)
	for i := range three {
		three[i] = charge.Request{LGF: testutil.UnchargedEthanolLGF}
	}
	_, err = s.client.ChargeBatch(context.Background(), &charge.BatchRequest{Molecules: three})
	s.Equal(codes.InvalidArgument, status.Code(err))
}

func (s *ChargeServiceSuite) TestGetRepository() {
	info, err := s.client.GetRepository(context.Background())
	s.Require().NoError(err)
	s.Equal(1, info.MinShell)
	s.Equal(2, info.MaxShell)
	s.Equal(chargetest.Resolution, info.Resolution)
	s.Positive(info.Molecules)
}

func (s *ChargeServiceSuite) TestHealth() {
	resp, err := healthpb.NewHealthClient(s.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	s.Require().NoError(err)
	s.Equal(healthpb.HealthCheckResponse_SERVING, resp.Status)
}

type mockCharger struct {
	mock.Mock
}

func (m *mockCharger) ChargeWire(ctx context.Context, req *charge.Request) (*charge.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*charge.Response), args.Error(1)
}

func (m *mockCharger) ChargeBatchWire(ctx context.Context, reqs []charge.Request) *charge.BatchResponse {
	return m.Called(ctx, reqs).Get(0).(*charge.BatchResponse)
}

func (m *mockCharger) Repository() *candidate.Repository {
	if r := m.Called().Get(0); r != nil {
		return r.(*candidate.Repository)
	}
	return nil
}

func TestChargeService_Errors(t *testing.T) {
	charger := new(mockCharger)
	charger.On("ChargeWire", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrCodeRepositoryUnavailable, "no repository loaded")).Once()
	charger.On("ChargeWire", mock.Anything, mock.Anything).
		Return(nil, assert.AnError).Once()
	charger.On("Repository").Return(nil)

	log := testutil.NewMockLogger()
	conn, _ := serve(t, NewChargeService(charger, 0, log))
	client := NewChargeServiceClient(conn)

	_, err := client.Charge(context.Background(), &charge.Request{LGF: "x"})
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = client.Charge(context.Background(), &charge.Request{LGF: "x"})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotContains(t, status.Convert(err).Message(), assert.AnError.Error())
	assert.True(t, log.HasMessage("error", "charge failed"))

	_, err = client.GetRepository(context.Background())
	assert.Equal(t, codes.Unavailable, status.Code(err))
	charger.AssertExpectations(t)
}

func TestChargeService_NilRequest(t *testing.T) {
	charger := new(mockCharger)
	charger.On("Repository").Return(nil)
	svc := NewChargeService(charger, 0, nil)
	_, err := svc.Charge(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = svc.GetRepository(context.Background(), &emptypb.Empty{})
	assert.Error(t, err)
}

func TestGRPCCode(t *testing.T) {
	cases := map[errors.ErrorCode]codes.Code{
		errors.CodeOK:                       codes.OK,
		errors.CodeInvalidGraph:             codes.InvalidArgument,
		errors.CodeInvalidParam:             codes.InvalidArgument,
		errors.ErrCodeMoleculeFormat:        codes.InvalidArgument,
		errors.CodeUnknownFragment:          codes.NotFound,
		errors.CodeInfeasible:               codes.NotFound,
		errors.CodeSearchExhausted:          codes.NotFound,
		errors.CodeInternalInconsistency:    codes.Internal,
		errors.ErrCodeRepositoryUnavailable: codes.Unavailable,
		errors.CodeTimeout:                  codes.DeadlineExceeded,
		errors.ErrCodeInternal:              codes.Internal,
	}
	for in, want := range cases {
		assert.Equal(t, want, GRPCCode(in), in.String())
	}
}
