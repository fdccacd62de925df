package proto

import (
	"context"
	"testing"

	"google.golang.org/grpc"
)

type recordingRegistrar struct {
	desc *grpc.ServiceDesc
	impl any
}

func (r *recordingRegistrar) RegisterService(desc *grpc.ServiceDesc, impl any) {
	r.desc = desc
	r.impl = impl
}

type fakeResponderServer struct {
	UnimplementedResponderServiceServer
	got *GenerateRequest
}

func (f *fakeResponderServer) Generate(ctx context.Context, in *GenerateRequest) (*GenerateReply, error) {
	f.got = in
	return &GenerateReply{Content: "hello from " + in.ResponderId}, nil
}

func TestRegisterResponderServiceServer(t *testing.T) {
	reg := &recordingRegistrar{}
	RegisterResponderServiceServer(reg, &fakeResponderServer{})

	if reg.desc == nil {
		t.Fatal("service was not registered")
	}
	if got, want := reg.desc.ServiceName, "parlor.ResponderService"; got != want {
		t.Errorf("ServiceName = %q, want %q", got, want)
	}
	if len(reg.desc.Methods) != 1 || reg.desc.Methods[0].MethodName != "Generate" {
		t.Fatalf("unexpected methods: %+v", reg.desc.Methods)
	}
}

func TestGenerateHandlerDispatch(t *testing.T) {
	reg := &recordingRegistrar{}
	srv := &fakeResponderServer{}
	RegisterResponderServiceServer(reg, srv)

	dec := func(v interface{}) error {
		req := v.(*GenerateRequest)
		req.ResponderId = "haiku-bot"
		req.RoomId = "room-1"
		req.Turns = []*Turn{{Role: "user", Name: "alice", Content: "hi"}}
		return nil
	}

	out, err := reg.desc.Methods[0].Handler(srv, context.Background(), dec, nil)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	reply, ok := out.(*GenerateReply)
	if !ok {
		t.Fatalf("handler returned %T, want *GenerateReply", out)
	}
	if reply.Content != "hello from haiku-bot" {
		t.Errorf("Content = %q", reply.Content)
	}
	if srv.got == nil || srv.got.RoomId != "room-1" {
		t.Errorf("server did not receive decoded request: %+v", srv.got)
	}
}
