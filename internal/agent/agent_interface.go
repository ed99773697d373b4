package agent

import (
	"context"
	"iter"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// Processor runs research tasks for the gateway.
// It is implemented by the scripted processor and the gRPC client.
type Processor interface {
	// Run executes one task and yields the envelopes it produces, in order.
	// The sequence ends when the task completes, fails or ctx is done.
	Run(ctx context.Context, task Task) iter.Seq2[*protocol.Envelope, error]

	// Ready reports whether the processor can accept tasks.
	Ready(ctx context.Context) error

	// Close releases resources
	Close()
}

// Ensure both processors implement Processor.
var (
	_ Processor = (*GrpcProcessor)(nil)
	_ Processor = (*ScriptProcessor)(nil)
)
