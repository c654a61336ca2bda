package cloud

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/config"
	"github.com/xkilldash9x/canary-cli/internal/monitor"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestS3StorePut(t *testing.T) {
	client := &fakeS3{}
	store := NewS3StoreWithClient(client, "qa-bucket")

	loc, err := store.Put(context.Background(), monitor.Object{
		Key:         "qa-monitoring/2026-03-04/run/final.png",
		Body:        []byte("png"),
		ContentType: "image/png",
		Metadata:    map[string]string{"run_id": "run"},
	})
	require.NoError(t, err)

	assert.Equal(t, "s3://qa-bucket/qa-monitoring/2026-03-04/run/final.png", loc)
	assert.Equal(t, "qa-bucket", aws.ToString(client.input.Bucket))
	assert.Equal(t, "image/png", aws.ToString(client.input.ContentType))
	assert.Equal(t, int64(3), aws.ToInt64(client.input.ContentLength))
	assert.Equal(t, "run", client.input.Metadata["run_id"])
	assert.Equal(t, []byte("png"), client.body)
}

func TestS3StorePutError(t *testing.T) {
	client := &fakeS3{err: errors.New("AccessDenied")}
	_, err := NewS3StoreWithClient(client, "qa-bucket").Put(context.Background(), monitor.Object{Key: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestSNSTransportSend(t *testing.T) {
	client := &fakeSNS{}
	tr := NewSNSTransportWithClient(client, "arn:default", zap.NewNop())

	err := tr.Send(context.Background(), monitor.Alert{
		Subject:    "QA Error Detected: " + strings.Repeat("x", 200),
		Body:       "body",
		Attributes: map[string]string{"run_id": "run", "digest": ""},
	})
	require.NoError(t, err)

	assert.Equal(t, "arn:default", aws.ToString(client.input.TopicArn))
	assert.Len(t, aws.ToString(client.input.Subject), maxSubjectLen)
	assert.Equal(t, "body", aws.ToString(client.input.Message))
	require.Len(t, client.input.MessageAttributes, 1)
	attr := client.input.MessageAttributes["run_id"]
	assert.Equal(t, "String", aws.ToString(attr.DataType))
	assert.Equal(t, "run", aws.ToString(attr.StringValue))
}

func TestSNSTransportRecipientOverridesTopic(t *testing.T) {
	client := &fakeSNS{}
	tr := NewSNSTransportWithClient(client, "arn:default", zap.NewNop())
	require.NoError(t, tr.Send(context.Background(), monitor.Alert{Recipient: "arn:other", Subject: "s"}))
	assert.Equal(t, "arn:other", aws.ToString(client.input.TopicArn))
}

func TestSNSTransportError(t *testing.T) {
	client := &fakeSNS{err: errors.New("Throttling")}
	err := NewSNSTransportWithClient(client, "arn:default", zap.NewNop()).Send(context.Background(), monitor.Alert{})
	assert.ErrorContains(t, err, "Throttling")
}

func TestTruncateSubjectKeepsRunes(t *testing.T) {
	s := strings.Repeat("a", 99) + "é"
	out := truncateSubject(s)
	assert.Equal(t, strings.Repeat("a", 99), out)
	assert.Equal(t, "short", truncateSubject("short"))
}

func TestLoadConfigRegionAndProfile(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent/config")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent/credentials")

	cfg, err := LoadConfig(context.Background(), config.MonitorConfig{AWSRegion: "eu-west-1"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)

	_, err = LoadConfig(context.Background(), config.MonitorConfig{AWSProfile: "does-not-exist"}, zap.NewNop())
	assert.Error(t, err, "an unknown shared profile fails to load")
}
