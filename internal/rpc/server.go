package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/mcmc"
	"github.com/danielpatrickdp/abtest/internal/session"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region server
// Server adapts a session to ExperimentServer.
type Server struct {
	sess *session.Session
	log  *slog.Logger
}

// NewServer wraps sess.
func NewServer(sess *session.Session, log *slog.Logger) *Server {
	return &Server{sess: sess, log: log}
}

// NewGRPCServer builds a grpc.Server with the experiment and health services,
// request logging and OpenTelemetry instrumentation.
func NewGRPCServer(sess *session.Session, log *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(LoggingInterceptor(log)),
	}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterExperimentServer(gs, NewServer(sess, log))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}

// LoggingInterceptor logs each call with its status code and duration.
func LoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "rpc", "method", info.FullMethod, "code", status.Code(err).String(), "took", time.Since(start))
		return resp, err
	}
}

// #endregion server

// #region handlers
func (s *Server) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, err := batchFromStruct(in)
	if err != nil {
		return nil, err
	}
	snap, err := s.sess.Update(ctx, b)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(snap.Fields())
}

func (s *Server) Decide(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	t, err := thresholdsFromStruct(in, s.sess.DefaultThresholds())
	if err != nil {
		return nil, err
	}
	d, err := s.sess.Decide(t)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(d.Fields())
}

func (s *Server) History(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snaps := s.sess.History()
	list := make([]any, len(snaps))
	for i, snap := range snaps {
		list[i] = snap.Fields()
	}
	return toStruct(map[string]any{
		"experiment_id": s.sess.ExperimentID(),
		"model":         string(s.sess.Model()),
		"snapshots":     list,
	})
}

func (s *Server) State(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.sess.State()
	return toStruct(map[string]any{
		"family":     string(st.Family),
		"alpha_a":    st.A.Alpha,
		"beta_a":     st.A.Beta,
		"alpha_b":    st.B.Alpha,
		"beta_b":     st.B.Beta,
		"events_a":   st.EventsA,
		"exposure_a": st.ExposureA,
		"events_b":   st.EventsB,
		"exposure_b": st.ExposureB,
	})
}

func (s *Server) Report(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	t, err := thresholdsFromStruct(in, s.sess.DefaultThresholds())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := s.sess.Report(&buf, t); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"text": buf.String()})
}

func (s *Server) Reset(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	l, err := s.sess.Reset()
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"experiment_id": s.sess.ExperimentID(),
		"snapshots":     l.Len(),
	})
}

// #endregion handlers

// #region conversion
func batchFromStruct(in *structpb.Struct) (engine.Batch, error) {
	var b engine.Batch
	f := in.GetFields()
	if v, ok := f["label"]; ok {
		b.Label = v.GetStringValue()
	}
	targets := []struct {
		key string
		dst *int64
	}{
		{"events_a", &b.A.Events},
		{"exposure_a", &b.A.Exposure},
		{"events_b", &b.B.Events},
		{"exposure_b", &b.B.Exposure},
	}
	for _, t := range targets {
		v, ok := f[t.key]
		if !ok {
			return engine.Batch{}, status.Errorf(codes.InvalidArgument, "missing field %s", t.key)
		}
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
			return engine.Batch{}, status.Errorf(codes.InvalidArgument, "field %s must be an integer", t.key)
		}
		*t.dst = int64(n.NumberValue)
	}
	return b, nil
}

// thresholdsFromStruct reads optional thresholds; absent values are taken
// from defaults.
func thresholdsFromStruct(in *structpb.Struct, defaults gate.Thresholds) (gate.Thresholds, error) {
	t := defaults
	f := in.GetFields()
	for key, dst := range map[string]*float64{"probability": &t.Probability, "min_uplift": &t.MinUplift} {
		v, ok := f[key]
		if !ok {
			continue
		}
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return gate.Thresholds{}, status.Errorf(codes.InvalidArgument, "field %s must be a number", key)
		}
		*dst = n.NumberValue
	}
	return t, nil
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidObservation), errors.Is(err, gate.ErrInvalidConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, mcmc.ErrSamplingDivergence):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, fmt.Sprintf("internal: %v", err))
}

// #endregion conversion
