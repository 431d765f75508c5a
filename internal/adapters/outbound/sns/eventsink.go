// Package sns publishes execution results to an AWS SNS topic.
//
// Messages are the JSON encoding of entity.ExecutionResult with
// "eventType", "candidateId" and "borrower" message attributes for
// subscription filtering. On a FIFO topic (ARN ending in ".fifo") messages
// are grouped by borrower and deduplicated by transaction hash, so a retried
// publish cannot deliver the same execution twice.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/pkg/retry"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// Compile-time check that ExecutionSink implements outbound.ExecutionSink
var _ outbound.ExecutionSink = (*ExecutionSink)(nil)

const eventTypeExecution = "liquidation_executed"

// SNSPublisher defines the subset of SNS client methods used by ExecutionSink.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS execution sink.
type Config struct {
	TopicARN string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Logger:         slog.Default(),
	}
}

// ExecutionSink publishes execution results to SNS.
type ExecutionSink struct {
	client SNSPublisher
	config Config
	fifo   bool
	logger *slog.Logger
	closed atomic.Bool
}

// NewExecutionSink creates a new SNS execution sink.
func NewExecutionSink(client SNSPublisher, config Config) (*ExecutionSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &ExecutionSink{
		client: client,
		config: config,
		fifo:   strings.HasSuffix(config.TopicARN, ".fifo"),
		logger: config.Logger.With("component", "sns-execution-sink"),
	}, nil
}

// PublishExecution publishes one execution result.
func (s *ExecutionSink) PublishExecution(ctx context.Context, result *entity.ExecutionResult) error {
	if s.closed.Load() {
		return errors.New("execution sink is closed")
	}
	if result == nil {
		return errors.New("execution result is required")
	}

	input, err := s.publishInput(result)
	if err != nil {
		return err
	}

	cfg := retry.Config{
		MaxRetries:     s.config.MaxRetries,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  2.0,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"maxRetries", s.config.MaxRetries,
			"backoff", backoff,
			"candidate", result.CandidateID,
			"error", err,
		)
	}
	err = retry.DoVoid(ctx, cfg, isRetryableError, onRetry, func() error {
		_, err := s.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// isRetryableError determines if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var authErr *types.AuthorizationErrorException
	if errors.As(err, &authErr) {
		return false
	}
	var invalid *types.InvalidParameterException
	if errors.As(err, &invalid) {
		return false
	}

	// Throttling, internal errors and network failures.
	return true
}

func (s *ExecutionSink) publishInput(result *entity.ExecutionResult) (*sns.PublishInput, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution result: %w", err)
	}

	attr := func(v string) types.MessageAttributeValue {
		return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	input := &sns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType":   attr(eventTypeExecution),
			"candidateId": attr(result.CandidateID),
			"borrower":    attr(result.Borrower.Hex()),
		},
	}
	if s.fifo {
		input.MessageGroupId = aws.String(result.Borrower.Hex())
		input.MessageDeduplicationId = aws.String(result.TransactionReference.Hex())
	}
	return input, nil
}

// Close stops further publishing. It is safe to call more than once.
func (s *ExecutionSink) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Info("SNS execution sink closed")
	}
	return nil
}
