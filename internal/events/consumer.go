// Package events consumes asynchronous engagement events (delivered,
// opened, clicked, response) from the delivery gateway's broker queue and
// folds them into execution counters and campaign stats.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Event is one engagement notification from the delivery gateway. LeadID
// matches the track_id stamped on the outbound message.
type Event struct {
	ExecutionID string    `json:"execution_id"`
	LeadID      string    `json:"lead_id,omitempty"`
	Type        string    `json:"event"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// engagementKinds maps gateway event names to counter kinds.
var engagementKinds = map[string]store.EngagementKind{
	"delivered": store.EngagementDelivered,
	"opened":    store.EngagementOpened,
	"clicked":   store.EngagementClicked,
	"response":  store.EngagementResponse,
	"replied":   store.EngagementResponse,
}

const (
	prefetchCount    = 16
	reconnectBackoff = 5 * time.Second
)

// Consumer drains the engagement queue. Events routinely arrive after the
// execution has finished; counters are applied regardless of execution
// status, so terminal executions still accumulate engagement.
type Consumer struct {
	url   string
	queue string
	store store.Store
	log   *zap.Logger
}

// NewConsumer creates a Consumer for the given AMQP URL and queue.
func NewConsumer(url, queue string, st store.Store) *Consumer {
	return &Consumer{
		url:   url,
		queue: queue,
		store: st,
		log:   zap.L().With(zap.String("component", "events")),
	}
}

// Run consumes until ctx is cancelled, reconnecting with a fixed backoff
// when the broker connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("consumer disconnected, reconnecting",
				zap.Error(err),
				zap.Duration("backoff", reconnectBackoff),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return eris.Wrap(err, "events: dial broker")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return eris.Wrap(err, "events: open channel")
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "events: declare queue")
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return eris.Wrap(err, "events: set qos")
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return eris.Wrap(err, "events: start consume")
	}
	c.log.Info("consuming engagement events", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return eris.New("events: delivery channel closed")
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.log.Warn("dropping malformed event", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := c.Apply(ctx, ev); err != nil {
		// Store hiccups requeue; everything else is not going to get
		// better on redelivery.
		c.log.Error("failed to apply event",
			zap.String("execution_id", ev.ExecutionID),
			zap.String("event", ev.Type),
			zap.Error(err),
		)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Apply folds a single event into the execution's engagement counters, the
// campaign's aggregate stats, and, for responses, the template success
// counter and the lead's lifecycle status.
func (c *Consumer) Apply(ctx context.Context, ev Event) error {
	kind, known := engagementKinds[ev.Type]
	if !known {
		c.log.Debug("ignoring unknown event type",
			zap.String("event", ev.Type),
			zap.String("execution_id", ev.ExecutionID),
		)
		return nil
	}
	if ev.ExecutionID == "" {
		return eris.New("events: missing execution id")
	}

	exec, err := c.store.GetExecution(ctx, ev.ExecutionID)
	if err != nil {
		return eris.Wrap(err, "events: load execution")
	}

	if err := c.store.IncrementEngagement(ctx, ev.ExecutionID, kind); err != nil {
		return eris.Wrap(err, "events: increment engagement")
	}
	if err := c.store.AddCampaignStats(ctx, exec.CampaignID, statsDelta(kind)); err != nil {
		return eris.Wrap(err, "events: roll up campaign stats")
	}

	if kind == store.EngagementResponse {
		if err := c.recordResponse(ctx, exec.CampaignID, ev.LeadID); err != nil {
			return err
		}
	}

	c.log.Debug("event applied",
		zap.String("execution_id", ev.ExecutionID),
		zap.String("event", ev.Type),
		zap.String("lead_id", ev.LeadID),
	)
	return nil
}

// recordResponse credits the campaign's template and promotes the
// responding lead to qualified.
func (c *Consumer) recordResponse(ctx context.Context, campaignID, leadID string) error {
	campaign, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return eris.Wrap(err, "events: load campaign")
	}
	if campaign.TemplateID != "" {
		if err := c.store.RecordTemplateResponse(ctx, campaign.TemplateID); err != nil {
			return eris.Wrap(err, "events: record template response")
		}
	}
	if leadID != "" {
		if err := c.store.UpdateLeadStatus(ctx, leadID, model.LeadStatusQualified); err != nil {
			c.log.Warn("failed to qualify responding lead",
				zap.String("lead_id", leadID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func statsDelta(kind store.EngagementKind) model.CampaignStats {
	switch kind {
	case store.EngagementDelivered:
		return model.CampaignStats{EmailsDelivered: 1}
	case store.EngagementOpened:
		return model.CampaignStats{EmailsOpened: 1}
	case store.EngagementClicked:
		return model.CampaignStats{EmailsClicked: 1}
	case store.EngagementResponse:
		return model.CampaignStats{ResponsesReceived: 1}
	}
	return model.CampaignStats{}
}
