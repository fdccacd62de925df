package proto

import (
	"context"

	"google.golang.org/grpc"
)

// Stub types for the remote responder gRPC service
// TODO: Replace with generated protobuf code

// GenerateRequest asks a remote responder for one reply.
type GenerateRequest struct {
	ResponderId  string
	RoomId       string
	Topic        string
	SystemPrompt string
	Turns        []*Turn
}

// GenerateReply is the remote responder's completed generation.
type GenerateReply struct {
	Content      string
	Model        string
	FinishReason string
	Usage        *Usage
}

// ResponderServiceClient is the client interface for the responder service
type ResponderServiceClient interface {
	Generate(ctx context.Context, in *GenerateRequest, opts ...grpc.CallOption) (*GenerateReply, error)
}

// responderServiceClient implements ResponderServiceClient
type responderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewResponderServiceClient creates a new ResponderServiceClient
func NewResponderServiceClient(cc grpc.ClientConnInterface) ResponderServiceClient {
	return &responderServiceClient{cc}
}

func (c *responderServiceClient) Generate(ctx context.Context, in *GenerateRequest, opts ...grpc.CallOption) (*GenerateReply, error) {
	out := new(GenerateReply)
	err := c.cc.Invoke(ctx, "/parlor.ResponderService/Generate", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResponderServiceServer is the server interface for the responder service
type ResponderServiceServer interface {
	Generate(context.Context, *GenerateRequest) (*GenerateReply, error)
}

// UnimplementedResponderServiceServer provides default implementations
type UnimplementedResponderServiceServer struct{}

func (UnimplementedResponderServiceServer) Generate(context.Context, *GenerateRequest) (*GenerateReply, error) {
	return nil, nil
}

// _ResponderService_Generate_Handler is the handler for the Generate RPC method
func _ResponderService_Generate_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GenerateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResponderServiceServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/parlor.ResponderService/Generate",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ResponderServiceServer).Generate(ctx, req.(*GenerateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterResponderServiceServer registers the responder service with gRPC
func RegisterResponderServiceServer(s grpc.ServiceRegistrar, srv ResponderServiceServer) {
	// Stub implementation - would be generated by protoc
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "parlor.ResponderService",
		HandlerType: (*ResponderServiceServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Generate",
				Handler:    _ResponderService_Generate_Handler,
			},
		},
		Metadata: "responder_service.proto",
	}, srv)
}
