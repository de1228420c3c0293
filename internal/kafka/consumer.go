package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
)

// RefreshTrigger runs an unattended refresh
type RefreshTrigger interface {
	RunScheduled(ctx context.Context) domain.JobResult
}

// RefreshRequest is the message format on the refresh topic. An empty body
// is accepted as a request with no metadata.
type RefreshRequest struct {
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Consumer reads refresh requests from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	processor     *processor
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a consumer group member for the refresh topic
func NewConsumer(cfg *config.KafkaConfig, trigger RefreshTrigger, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		processor:     newProcessor(trigger, cfg.ProcessTimeout, logger),
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start joins the group and blocks until the first session is set up
func (c *Consumer) Start() error {
	c.logger.Info("starting kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{processor: c.processor, ready: c.ready}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}
			if c.ctx.Err() != nil {
				return
			}
			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	c.logger.Info("kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop leaves the group
func (c *Consumer) Stop() error {
	c.logger.Info("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

type consumerGroupHandler struct {
	processor *processor
	ready     chan bool
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim handles requests one at a time; every message is marked,
// including malformed ones.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.processor.process(session.Context(), message)
			session.MarkMessage(message, "")
		}
	}
}

// processor turns refresh requests into refresh runs. Requests issued before
// the start of the last completed run are already satisfied and are skipped.
// Partition claims share one processor, so runs are serialized by mu.
type processor struct {
	trigger RefreshTrigger
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

func newProcessor(trigger RefreshTrigger, timeout time.Duration, logger *slog.Logger) *processor {
	return &processor{trigger: trigger, timeout: timeout, logger: logger, now: time.Now}
}

// process reports whether a refresh was run
func (p *processor) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	var req RefreshRequest
	if len(message.Value) > 0 {
		if err := json.Unmarshal(message.Value, &req); err != nil {
			p.logger.Warn("failed to unmarshal refresh request",
				"error", err,
				"offset", message.Offset,
				"partition", message.Partition,
			)
			return false
		}
	}

	issued := req.RequestedAt
	if issued.IsZero() {
		issued = message.Timestamp
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !issued.IsZero() && !p.lastRun.IsZero() && issued.Before(p.lastRun) {
		p.logger.Debug("refresh request already satisfied",
			"requested_by", req.RequestedBy,
			"offset", message.Offset,
		)
		return false
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := p.now()
	result := p.trigger.RunScheduled(ctx)
	if result.Error == "" {
		p.lastRun = start
	}

	p.logger.Info("refresh request processed",
		"requested_by", req.RequestedBy,
		"reason", req.Reason,
		"result", result.Result,
		"players", result.Players,
	)
	return true
}
