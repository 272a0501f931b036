package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/circuitbreaker"
	"medea/pkg/retry"

	"go.uber.org/zap"
)

var (
	ErrCallbackQueueFull      = errors.New("callback queue is full")
	ErrCallbackStopped        = errors.New("callback service is stopped")
	ErrUnsupportedCallbackURL = errors.New("unsupported callback url scheme")
)

type CallbackServiceConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
	Retry   retry.Config
}

type callbackJob struct {
	url string
	req domain.CallbackRequest
}

// CallbackService delivers on_join and on_leave callbacks from a bounded
// queue so that rooms never wait on the network.
type CallbackService struct {
	cfg        CallbackServiceConfig
	transports map[string]ports.CallbackTransport
	metrics    ports.SignallingMetrics
	logger     *zap.SugaredLogger

	queue  chan callbackJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

var _ ports.CallbackSender = (*CallbackService)(nil)

// NewCallbackService creates the service. transports are keyed by url scheme.
func NewCallbackService(
	cfg CallbackServiceConfig,
	transports map[string]ports.CallbackTransport,
	metrics ports.SignallingMetrics,
	logger *zap.SugaredLogger,
) *CallbackService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	nonRetryable := make([]error, 0, len(cfg.Retry.NonRetryableErrors)+1)
	nonRetryable = append(nonRetryable, cfg.Retry.NonRetryableErrors...)
	cfg.Retry.NonRetryableErrors = append(nonRetryable, circuitbreaker.ErrOpen)

	ctx, cancel := context.WithCancel(context.Background())
	return &CallbackService{
		cfg:        cfg,
		transports: transports,
		metrics:    metrics,
		logger:     logger,
		queue:      make(chan callbackJob, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the delivery workers.
func (s *CallbackService) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logger.Infow("Callback service started", "workers", s.cfg.Workers, "queue_size", s.cfg.QueueSize)
}

// Send enqueues a callback. A full queue drops it.
func (s *CallbackService) Send(rawURL string, req domain.CallbackRequest) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		s.dropped(rawURL, req, ErrCallbackStopped)
		return
	}
	select {
	case s.queue <- callbackJob{url: rawURL, req: req}:
	default:
		s.dropped(rawURL, req, ErrCallbackQueueFull)
	}
}

// Backlog reports the queued callbacks and the queue capacity.
func (s *CallbackService) Backlog() (queued, capacity int) {
	return len(s.queue), cap(s.queue)
}

func (s *CallbackService) dropped(rawURL string, req domain.CallbackRequest, err error) {
	s.metrics.CallbackSent(req.Event.Kind, err)
	s.logger.Warnw("Callback dropped",
		"fid", req.Fid,
		"kind", req.Event.Kind,
		"url", rawURL,
		"error", err,
	)
}

// Stop stops accepting callbacks and waits for queued ones until ctx ends.
func (s *CallbackService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *CallbackService) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		err := s.deliver(job)
		s.metrics.CallbackSent(job.req.Event.Kind, err)
		if err != nil {
			s.logger.Warnw("Callback delivery failed",
				"fid", job.req.Fid,
				"kind", job.req.Event.Kind,
				"url", job.url,
				"error", err,
			)
			continue
		}
		s.logger.Debugw("Callback delivered", "fid", job.req.Fid, "kind", job.req.Event.Kind)
	}
}

func (s *CallbackService) deliver(job callbackJob) error {
	transport, err := s.transportFor(job.url)
	if err != nil {
		return err
	}

	cfg := s.cfg.Retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Debugw("Retrying callback",
			"fid", job.req.Fid,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return retry.Retry(s.ctx, cfg, func() error {
		ctx := s.ctx
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(s.ctx, s.cfg.Timeout)
			defer cancel()
		}
		return transport.Deliver(ctx, job.url, job.req)
	})
}

func (s *CallbackService) transportFor(rawURL string) (ports.CallbackTransport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCallbackURL, err)
	}
	transport, ok := s.transports[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCallbackURL, u.Scheme)
	}
	return transport, nil
}
