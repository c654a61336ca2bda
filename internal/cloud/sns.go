// internal/cloud/sns.go
package cloud

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/monitor"
)

// SNS rejects subjects longer than this.
const maxSubjectLen = 100

// PublishAPI is the slice of the SNS client the transport needs.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTransport publishes alerts to a topic.
type SNSTransport struct {
	client   PublishAPI
	topicARN string
	logger   *zap.Logger
}

var _ monitor.AlertTransport = (*SNSTransport)(nil)

// NewSNSTransport creates an SNSTransport from an SDK config.
func NewSNSTransport(awsCfg aws.Config, topicARN string, logger *zap.Logger) *SNSTransport {
	return NewSNSTransportWithClient(sns.NewFromConfig(awsCfg), topicARN, logger)
}

// NewSNSTransportWithClient wraps an existing client.
func NewSNSTransportWithClient(client PublishAPI, topicARN string, logger *zap.Logger) *SNSTransport {
	return &SNSTransport{client: client, topicARN: topicARN, logger: logger.Named("sns")}
}

// Send publishes the alert. The alert's Recipient overrides the default topic.
func (t *SNSTransport) Send(ctx context.Context, alert monitor.Alert) error {
	topic := alert.Recipient
	if topic == "" {
		topic = t.topicARN
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(topic),
		Subject:           aws.String(truncateSubject(alert.Subject)),
		Message:           aws.String(alert.Body),
		MessageAttributes: messageAttributes(alert.Attributes),
	}
	out, err := t.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	t.logger.Info("SNS notification sent.", zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// messageAttributes drops empty values, which SNS refuses.
func messageAttributes(attrs map[string]string) map[string]types.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		if v == "" {
			continue
		}
		out[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return out
}

func truncateSubject(s string) string {
	if len(s) <= maxSubjectLen {
		return s
	}
	s = s[:maxSubjectLen]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
