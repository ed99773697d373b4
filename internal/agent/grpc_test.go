package agent

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ashureev/researchdeck/internal/protocol"
)

func startAgentServer(t *testing.T, p Processor) (*bufconn.Listener, func(healthpb.HealthCheckResponse_ServingStatus)) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := RegisterAgentServer(srv, NewProcessorServer(p))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis, func(s healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus(serviceName, s)
	}
}

func dialAgent(t *testing.T, lis *bufconn.Listener) *GrpcProcessor {
	t.Helper()
	p, err := NewGrpcProcessor(GrpcClientConfig{
		Address: "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewGrpcProcessor failed: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestGrpcProcessorStreamsEnvelopes(t *testing.T) {
	script, err := LoadScript("")
	if err != nil {
		t.Fatalf("LoadScript failed: %v", err)
	}
	lis, _ := startAgentServer(t, NewScriptProcessor(script, fastConfig(), nil))
	client := dialAgent(t, lis)

	if err := client.Ready(context.Background()); err != nil {
		t.Fatalf("Ready failed: %v", err)
	}

	remote := collect(t, client, "presidential approval")
	local := collect(t, NewScriptProcessor(script, fastConfig(), nil), "presidential approval")
	if len(remote) != len(local) {
		t.Fatalf("remote produced %d envelopes, local %d", len(remote), len(local))
	}
	for i := range local {
		if remote[i].Type != local[i].Type || remote[i].Content != local[i].Content {
			t.Fatalf("envelope %d differs: %+v vs %+v", i, remote[i], local[i])
		}
	}

	var selection *protocol.SelectionData
	for _, env := range remote {
		if env.UISelectionData != nil {
			selection = env.UISelectionData
		}
	}
	if selection == nil || selection.TotalQuestions != 5 {
		t.Fatalf("selection data lost in transit: %+v", selection)
	}
}

func TestGrpcProcessorReadyReflectsHealth(t *testing.T) {
	lis, setStatus := startAgentServer(t, NewScriptProcessor(&Script{}, fastConfig(), nil))
	client := dialAgent(t, lis)

	setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	if err := client.Ready(context.Background()); err == nil {
		t.Fatal("expected not serving error")
	}
}

func TestGrpcProcessorRejectsBlankTask(t *testing.T) {
	lis, _ := startAgentServer(t, NewScriptProcessor(&Script{}, fastConfig(), nil))
	client := dialAgent(t, lis)

	for _, err := range client.Run(context.Background(), Task{Content: "  "}) {
		if err == nil {
			t.Fatal("expected error for blank task")
		}
		return
	}
	t.Fatal("expected a result")
}
