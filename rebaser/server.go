package rebaser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"wsgraph/common"
	"wsgraph/workspace"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsgraph",
		Subsystem: "rebaser",
		Name:      "requests_total",
		Help:      "Rebase requests handled, by outcome.",
	}, []string{"status"})

	requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wsgraph",
		Subsystem: "rebaser",
		Name:      "request_duration_seconds",
		Help:      "Time from receiving a rebase request to publishing its result.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

// Collectors returns the rebaser metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{requestsTotal, requestDuration}
}

// ServerOptions configures a Server.
type ServerOptions struct {
	RequestTopic string
	MovedTopic   string
	// SubscriberID names the server's request subscription.
	SubscriberID string
}

// DefaultServerOptions returns the default topics and a random subscriber id.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		RequestTopic: DefaultRequestTopic,
		MovedTopic:   DefaultMovedTopic,
		SubscriberID: "rebaser-" + uuid.NewString(),
	}
}

// Server handles rebase requests. Requests for the same change set run one
// at a time; different change sets rebase concurrently.
type Server struct {
	services *workspace.Services
	ps       PubSub
	log      *zap.Logger
	options  *ServerOptions

	locksMu sync.Mutex
	locks   map[common.ChangeSetID]*changeSetLock

	wg sync.WaitGroup
}

type changeSetLock struct {
	mu   sync.Mutex
	refs int
}

// NewServer creates a server. It does nothing until Start.
func NewServer(services *workspace.Services, ps PubSub, log *zap.Logger, options *ServerOptions) *Server {
	if options == nil {
		options = DefaultServerOptions()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		services: services,
		ps:       ps,
		log:      log.Named("rebaser"),
		options:  options,
		locks:    make(map[common.ChangeSetID]*changeSetLock),
	}
}

// Start subscribes to the request topic.
func (s *Server) Start(ctx context.Context) error {
	if err := s.ps.Subscribe(ctx, s.options.RequestTopic, s.options.SubscriberID, s.handleMessage); err != nil {
		return err
	}
	s.log.Info("rebaser started",
		zap.String("topic", s.options.RequestTopic),
		zap.String("subscriber", s.options.SubscriberID))
	return nil
}

// Stop unsubscribes and waits for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	err := s.ps.Unsubscribe(ctx, s.options.RequestTopic, s.options.SubscriberID)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	s.log.Info("rebaser stopped")
	return err
}

func (s *Server) handleMessage(ctx context.Context, msg Message) error {
	s.wg.Add(1)
	defer s.wg.Done()

	req, err := decode[RebaseRequest](msg.Payload)
	if err != nil {
		requestsTotal.WithLabelValues("malformed").Inc()
		s.log.Warn("dropping malformed rebase request", zap.Error(err))
		return nil
	}
	if err := req.Validate(); err != nil {
		requestsTotal.WithLabelValues("malformed").Inc()
		s.log.Warn("dropping invalid rebase request", zap.Error(err))
		return nil
	}

	result := s.Handle(ctx, req)

	payload, err := encode(result)
	if err != nil {
		return err
	}
	if err := s.ps.Publish(ctx, req.ReplyTopic, payload); err != nil {
		s.log.Error("failed to publish rebase result",
			zap.String("request_id", req.RequestID),
			zap.String("reply_topic", req.ReplyTopic),
			zap.Error(err))
		return err
	}
	return nil
}

// Handle runs one rebase and announces the moved change set. The returned
// result is what gets published to the request's reply topic.
func (s *Server) Handle(ctx context.Context, req RebaseRequest) RebaseResult {
	start := time.Now()
	log := s.log.With(
		zap.String("request_id", req.RequestID),
		zap.Stringer("change_set", req.ChangeSetID),
		zap.Stringer("onto", req.ToSnapshotAddress))

	unlock := s.lock(req.ChangeSetID)
	defer unlock()

	result := RebaseResult{RequestID: req.RequestID, ChangeSetID: req.ChangeSetID}
	outcome, err := s.services.RebaseChangeSet(ctx, req.ChangeSetID, req.ToSnapshotAddress, req.OntoVectorClockID)
	switch {
	case err != nil:
		result.Status = StatusError
		result.Error = err.Error()
		log.Error("rebase failed", zap.Error(err))
	case outcome.Applied():
		addr := outcome.SnapshotAddress
		result.Status = StatusApplied
		result.NewRoot = outcome.NewRoot
		result.SnapshotAddress = &addr
		result.Updates = outcome.Result.Updates
		log.Info("rebase applied",
			zap.Int("updates", len(outcome.Result.Updates)),
			zap.Stringer("snapshot", addr))
		s.announce(ctx, ChangeSetMoved{
			ChangeSetID:     req.ChangeSetID,
			SnapshotAddress: addr,
			RootHash:        outcome.NewRoot,
		})
	default:
		result.Status = StatusConflicts
		result.Conflicts = outcome.Result.Conflicts
		result.Updates = outcome.Result.Updates
		log.Info("rebase has conflicts", zap.Int("conflicts", len(outcome.Result.Conflicts)))
	}

	requestsTotal.WithLabelValues(string(result.Status)).Inc()
	requestDuration.Observe(time.Since(start).Seconds())
	return result
}

func (s *Server) announce(ctx context.Context, moved ChangeSetMoved) {
	payload, err := encode(moved)
	if err != nil {
		s.log.Error("failed to encode announcement", zap.Error(err))
		return
	}
	if err := s.ps.Publish(ctx, s.options.MovedTopic, payload); err != nil {
		s.log.Warn("failed to announce moved change set",
			zap.Stringer("change_set", moved.ChangeSetID), zap.Error(err))
	}
}

// lock serializes work on one change set.
func (s *Server) lock(id common.ChangeSetID) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &changeSetLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}
