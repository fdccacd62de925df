package responder

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/parlor-dev/parlor/proto"
)

func init() {
	Register("remote", func(def Def) (Responder, error) {
		return &RemoteResponder{}, nil
	})
}

// RemoteResponder delegates generation to a responder service over gRPC,
// so a participant can run as its own process or on another host.
type RemoteResponder struct {
	def    Def
	conn   *grpc.ClientConn
	client pb.ResponderServiceClient
}

// NewRemoteWithClient creates a remote responder around a custom service
// client (useful for testing). Initialize keeps the injected client.
func NewRemoteWithClient(client pb.ResponderServiceClient) *RemoteResponder {
	return &RemoteResponder{client: client}
}

func (r *RemoteResponder) Initialize(ctx context.Context, def Def) error {
	r.def = def
	if r.client != nil {
		return nil
	}
	if def.Endpoint == "" {
		return fmt.Errorf("remote responder %q: endpoint is required", def.ID)
	}

	conn, err := grpc.NewClient(def.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect to responder service at %s: %w", def.Endpoint, err)
	}
	r.conn = conn
	r.client = pb.NewResponderServiceClient(conn)
	return nil
}

func (r *RemoteResponder) Generate(ctx context.Context, req Request) (*Reply, error) {
	if r.client == nil {
		return nil, ErrNotInitialized
	}

	turns := make([]*pb.Turn, len(req.Messages))
	for i, m := range req.Messages {
		turns[i] = &pb.Turn{Role: m.Role, Name: m.Name, Content: m.Content}
	}

	resp, err := r.client.Generate(ctx, &pb.GenerateRequest{
		ResponderId:  r.def.ID,
		RoomId:       req.RoomID,
		Topic:        req.Topic,
		SystemPrompt: req.SystemPrompt,
		Turns:        turns,
	})
	if err != nil {
		return nil, fmt.Errorf("remote generate: %w", err)
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return nil, ErrEmptyReply
	}

	reply := &Reply{
		Content:      content,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
	}
	if reply.Model == "" {
		reply.Model = r.def.Model
	}
	if resp.Usage != nil {
		reply.Usage = &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	return reply, nil
}

// Close releases the underlying connection when one was dialed.
func (r *RemoteResponder) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
