package rebaser

import (
	"context"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"wsgraph/common"
	"wsgraph/vectorclock"
)

// Client sends rebase requests and waits for their results.
type Client struct {
	ps           PubSub
	requestTopic string
}

// NewClient creates a client publishing to requestTopic, or the default
// topic when empty.
func NewClient(ps PubSub, requestTopic string) *Client {
	if requestTopic == "" {
		requestTopic = DefaultRequestTopic
	}
	return &Client{ps: ps, requestTopic: requestTopic}
}

// Rebase asks for changeSetID to be rebased onto the snapshot at onto and
// blocks until the result arrives or ctx ends. Conflicts come back in the
// result, not as an error.
func (c *Client) Rebase(ctx context.Context, changeSetID common.ChangeSetID, onto cid.Cid, ontoClockID vectorclock.ID) (*RebaseResult, error) {
	req := RebaseRequest{
		RequestID:         uuid.NewString(),
		ChangeSetID:       changeSetID,
		ToSnapshotAddress: onto,
		OntoVectorClockID: ontoClockID,
	}
	req.ReplyTopic = replyTopicPrefix + req.RequestID

	replies := make(chan RebaseResult, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := c.ps.Subscribe(subCtx, req.ReplyTopic, req.RequestID, func(_ context.Context, msg Message) error {
		result, err := decode[RebaseResult](msg.Payload)
		if err != nil {
			return err
		}
		if result.RequestID != req.RequestID {
			return nil
		}
		select {
		case replies <- result:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.ps.Unsubscribe(context.WithoutCancel(ctx), req.ReplyTopic, req.RequestID); err != nil {
			logger.Debugf("unsubscribe from %s: %v", req.ReplyTopic, err)
		}
	}()

	payload, err := encode(req)
	if err != nil {
		return nil, err
	}
	if err := c.ps.Publish(ctx, c.requestTopic, payload); err != nil {
		return nil, err
	}

	select {
	case result := <-replies:
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
