package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service delivers messages in the background through a Mailer, retrying
// failed sends.
type Service struct {
	mailer Mailer
	log    *zap.Logger

	mu    sync.RWMutex
	stats Stats

	msgCh   chan *Message
	workers int

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config ServiceConfig
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Workers:       2,
		BufferSize:    100,
		RetryAttempts: 3,
		RetryDelay:    30 * time.Second,
	}
}

// NewService creates a new notification service
func NewService(mailer Mailer, config ServiceConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		mailer:  mailer,
		log:     log.Named("notification"),
		msgCh:   make(chan *Message, config.BufferSize),
		workers: config.Workers,
		stopCh:  make(chan struct{}),
		config:  config,
	}
}

// Start starts the delivery workers
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return nil
}

// Stop stops the workers. Queued messages that were not picked up are dropped.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("service not started")
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return nil
}

// Enqueue schedules msg for delivery. It fails when the buffer is full.
func (s *Service) Enqueue(msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("no recipient address")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Status = StatusPending

	select {
	case s.msgCh <- &msg:
		return nil
	default:
		s.mu.Lock()
		s.stats.Dropped++
		s.mu.Unlock()
		return fmt.Errorf("notification buffer full")
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case msg := <-s.msgCh:
			s.process(ctx, msg)
		}
	}
}

func (s *Service) process(ctx context.Context, msg *Message) {
	msg.Attempts++
	err := s.mailer.Send(ctx, *msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		now := time.Now()
		msg.SentAt = &now
		msg.Status = StatusSent
		s.stats.Sent++
		s.log.Info("email sent", zap.String("id", msg.ID), zap.String("kind", msg.Kind))
		return
	}

	msg.ErrorMessage = err.Error()
	if msg.Attempts >= s.config.RetryAttempts {
		msg.Status = StatusFailed
		s.stats.Failed++
		s.log.Error("email delivery failed",
			zap.String("id", msg.ID),
			zap.String("kind", msg.Kind),
			zap.Int("attempts", msg.Attempts),
			zap.Error(err),
		)
		return
	}

	s.stats.Retried++
	s.log.Warn("email delivery failed, retrying", zap.String("id", msg.ID), zap.Error(err))
	time.AfterFunc(s.config.RetryDelay, func() {
		select {
		case s.msgCh <- msg:
		case <-s.stopCh:
		default:
		}
	})
}

// Stats returns delivery counters
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
