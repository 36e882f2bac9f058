// Package rpc serves a session over gRPC. Messages are google.protobuf.Struct
// values so no generated code is needed; field names match the JSON views
// produced by ledger.Snapshot.Fields and gate.Decision.Fields.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "abtest.v1.Experiment"

// #region server-interface
// ExperimentServer is the server API for the experiment service.
type ExperimentServer interface {
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	State(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Report(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterExperimentServer registers srv with s.
func RegisterExperimentServer(s grpc.ServiceRegistrar, srv ExperimentServer) {
	s.RegisterService(&ExperimentServiceDesc, srv)
}

// #endregion server-interface

// #region service-desc
type method func(ExperimentServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call method) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExperimentServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ExperimentServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ExperimentServiceDesc describes the experiment service.
var ExperimentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExperimentServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Update", ExperimentServer.Update),
		unary("Decide", ExperimentServer.Decide),
		unary("History", ExperimentServer.History),
		unary("State", ExperimentServer.State),
		unary("Report", ExperimentServer.Report),
		unary("Reset", ExperimentServer.Reset),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "abtest/v1/experiment.proto",
}

// #endregion service-desc
