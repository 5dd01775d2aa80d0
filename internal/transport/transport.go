package transport

import (
	"context"

	"github.com/devrev/pairdb/offload-engine/internal/model"
)

// Channel is a per-segment byte sink on a target node. A channel
// carries exactly one segment: chunks are sent in order, then the
// segment is committed with its checksum.
type Channel interface {
	// Send transmits one chunk of segment payload. compressed marks
	// chunks that were S2-encoded before send.
	Send(ctx context.Context, chunk []byte, compressed bool) error

	// Commit finalizes the segment. When verify is set the remote end
	// compares crc against the checksum of the payload it received and
	// reports a mismatch as an error.
	Commit(ctx context.Context, crc uint32, verify bool) error

	Close() error
}

// Dialer opens transfer channels to target nodes. Implementations
// bound connection establishment by the deadline on ctx.
type Dialer interface {
	Dial(ctx context.Context, node model.TargetNode) (Channel, error)
}
