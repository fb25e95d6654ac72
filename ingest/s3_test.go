package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"gatekeeper/core"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockS3 serves a fixed set of objects
type mockS3 struct {
	s3iface.S3API
	objects     map[string][]byte
	contentType string
	err         error
	requested   []string
}

func (m *mockS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	m.requested = append(m.requested, aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key))
	if m.err != nil {
		return nil, m.err
	}
	body, ok := m.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}
	if m.contentType != "" {
		out.ContentType = aws.String(m.contentType)
	}
	return out, nil
}

func s3Result(url string) *core.ExecutionResult {
	return &core.ExecutionResult{OutputMode: core.ModeS3, URL: &url}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://results-bucket/runs/2024/out.json")
	require.NoError(t, err)
	assert.Equal(t, "results-bucket", bucket)
	assert.Equal(t, "runs/2024/out.json", key)

	for _, bad := range []string{"https://example.com/a", "s3://bucket-only", "s3:///key", "::"} {
		_, _, err := ParseS3URL(bad)
		assert.ErrorIs(t, err, ErrInvalidS3URL, bad)
	}
}

func TestS3Resolver_InlineAndNone(t *testing.T) {
	client := &mockS3{}
	r := NewS3Resolver(client, 0, zaptest.NewLogger(t).Sugar())

	inline := sampleResult()
	outputs, err := r.Resolve(context.Background(), inline)
	require.NoError(t, err)
	assert.Equal(t, inline.Data, outputs)

	outputs, err = r.Resolve(context.Background(), &core.ExecutionResult{OutputMode: core.ModeNone})
	require.NoError(t, err)
	assert.Empty(t, outputs)
	assert.Empty(t, client.requested)
}

func TestS3Resolver_FetchJSON(t *testing.T) {
	client := &mockS3{objects: map[string][]byte{
		"runs/out.json": []byte(`[{"input_id":"row-9","match":{"alert_type":"POLICY","detection_id":"S3.Public"},"details":{}}]`),
	}}
	r := NewS3Resolver(client, 0, zaptest.NewLogger(t).Sugar())

	outputs, err := r.Resolve(context.Background(), s3Result("s3://bucket/runs/out.json"))
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "S3.Public", outputs[0].Match.DetectionID)
	assert.Equal(t, []string{"bucket/runs/out.json"}, client.requested)
}

func TestS3Resolver_FetchMsgpackByContentType(t *testing.T) {
	body, err := EncodeOutputs(sampleResult().Data, CodecMsgpack)
	require.NoError(t, err)

	client := &mockS3{objects: map[string][]byte{"out": body}, contentType: "application/msgpack"}
	r := NewS3Resolver(client, 0, zaptest.NewLogger(t).Sugar())

	outputs, err := r.Resolve(context.Background(), s3Result("s3://bucket/out"))
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "row-1", outputs[0].InputID)
}

func TestS3Resolver_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	_, err := NewS3Resolver(&mockS3{err: errors.New("AccessDenied")}, 0, logger).
		Resolve(context.Background(), s3Result("s3://bucket/key"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")

	_, err = NewS3Resolver(nil, 0, logger).Resolve(context.Background(), s3Result("s3://bucket/key"))
	assert.Error(t, err)

	_, err = NewS3Resolver(&mockS3{}, 0, logger).Resolve(context.Background(), s3Result("http://bucket/key"))
	assert.ErrorIs(t, err, ErrInvalidS3URL)

	big := &mockS3{objects: map[string][]byte{"key": bytes.Repeat([]byte(" "), 64)}}
	_, err = NewS3Resolver(big, 8, logger).Resolve(context.Background(), s3Result("s3://bucket/key"))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
