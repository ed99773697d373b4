package agent

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// AgentServer is the server side of AgentService.
type AgentServer interface {
	Run(req *RunRequest, stream grpc.ServerStream) error
}

// RegisterAgentServer registers impl and a health service reporting it as serving.
func RegisterAgentServer(s *grpc.Server, impl AgentServer) *health.Server {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*AgentServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    runStreamDesc.StreamName,
			ServerStreams: true,
			Handler:       runHandler,
		}},
		Metadata: "researchdeck/agent.json",
	}, impl)

	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

func runHandler(srv any, stream grpc.ServerStream) error {
	req := new(RunRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(AgentServer).Run(req, stream)
}

// ProcessorServer exposes a Processor over gRPC.
type ProcessorServer struct {
	processor Processor
}

// NewProcessorServer wraps p.
func NewProcessorServer(p Processor) *ProcessorServer {
	return &ProcessorServer{processor: p}
}

// Run streams every envelope of the task to the caller.
func (s *ProcessorServer) Run(req *RunRequest, stream grpc.ServerStream) error {
	task := Task{Content: req.Content, SessionID: req.SessionID}
	if err := (protocol.Command{Content: task.Content}).Validate(); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	for env, err := range s.processor.Run(stream.Context(), task) {
		if err != nil {
			if ctxErr := stream.Context().Err(); ctxErr != nil {
				return status.FromContextError(ctxErr).Err()
			}
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(env); err != nil {
			return err
		}
	}
	return nil
}
