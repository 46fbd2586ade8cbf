package rabbitmq

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"vericrop/internal/decision"
	"vericrop/internal/review"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
)

// DecisionConsumer reads reviewer decisions and resolves escalated claims.
type DecisionConsumer struct {
	ch       Channel
	queue    string
	resolver review.Resolver
	logger   *slog.Logger
}

func NewDecisionConsumer(ch Channel, queue string, resolver review.Resolver, logger *slog.Logger) *DecisionConsumer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DecisionConsumer{ch: ch, queue: queue, resolver: resolver, logger: logger}
}

// Start declares the decision queue and consumes it until ctx is done.
func (c *DecisionConsumer) Start(ctx context.Context) error {
	if err := declareQueue(c.ch, c.queue); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(
		c.queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (acked after the claim is resolved)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "review decision consumer started", "queue", c.queue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("review decision consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("review decision channel closed")
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()
	return nil
}

func (c *DecisionConsumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	claimID, rev, err := parseDecision(msg.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "dropping malformed review decision",
			"message_id", msg.MessageId,
			"error", err,
		)
		_ = msg.Nack(false, false)
		return
	}

	if err := c.resolver.ResolveReview(ctx, claimID, rev); err != nil {
		requeue := !permanent(err)
		c.logger.ErrorContext(ctx, "failed to apply review decision",
			"claim_id", claimID.String(),
			"reviewer_id", rev.ReviewerID,
			"requeue", requeue,
			"error", err,
		)
		_ = msg.Nack(false, requeue)
		return
	}

	_ = msg.Ack(false)
	c.logger.InfoContext(ctx, "review decision applied",
		"claim_id", claimID.String(),
		"reviewer_id", rev.ReviewerID,
		"decision", rev.Verdict,
	)
}

func parseDecision(body []byte) (domain.ClaimID, decision.Review, error) {
	var d review.Decision
	if err := json.Unmarshal(body, &d); err != nil {
		return domain.ClaimID{}, decision.Review{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid decision payload")
	}
	claimID, err := domain.ParseClaimID(d.ClaimID)
	if err != nil {
		return domain.ClaimID{}, decision.Review{}, err
	}
	verdict, err := decision.ParseVerdict(d.Decision)
	if err != nil {
		return domain.ClaimID{}, decision.Review{}, err
	}
	return claimID, decision.Review{Verdict: verdict, ReviewerID: d.ReviewerID, Reason: d.Reason}, nil
}

// permanent reports failures that redelivery cannot fix.
func permanent(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidInput, dErrors.CodeValidation, dErrors.CodeBadRequest,
		dErrors.CodeNotFound, dErrors.CodeInvalidState:
		return true
	}
	return false
}
