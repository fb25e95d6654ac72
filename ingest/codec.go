package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gatekeeper/core"
	"gatekeeper/metrics"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultMaxPayloadBytes bounds a single decoded result payload
const DefaultMaxPayloadBytes = 32 * 1024 * 1024 // 32MB

// Codec names a wire encoding of execution results
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
)

var (
	// ErrPayloadTooLarge is returned when a payload exceeds the configured limit
	ErrPayloadTooLarge = errors.New("execution result payload too large")
	// ErrEmptyPayload is returned for a zero-length payload
	ErrEmptyPayload = errors.New("empty execution result payload")
)

// CodecForContentType picks a codec from an HTTP or S3 content type.
// Anything that is not msgpack is treated as JSON.
func CodecForContentType(contentType string) Codec {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/msgpack", "application/x-msgpack", "application/vnd.msgpack":
		return CodecMsgpack
	}
	return CodecJSON
}

// CodecForKey picks a codec from an object key extension
func CodecForKey(key string) Codec {
	lower := strings.ToLower(key)
	if strings.HasSuffix(lower, ".msgpack") || strings.HasSuffix(lower, ".mp") {
		return CodecMsgpack
	}
	return CodecJSON
}

// DecodeResult decodes one ExecutionResult envelope and validates its mode.
// maxBytes <= 0 uses DefaultMaxPayloadBytes.
func DecodeResult(data []byte, codec Codec, maxBytes int64) (*core.ExecutionResult, error) {
	if err := checkSize(data, maxBytes); err != nil {
		metrics.IngestFailures.WithLabelValues("size").Inc()
		return nil, err
	}

	var result core.ExecutionResult
	if err := unmarshal(data, codec, &result); err != nil {
		metrics.IngestFailures.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("failed to decode execution result (%s): %w", codec, err)
	}
	if codec == CodecMsgpack {
		for i := range result.Data {
			result.Data[i].Details.Normalize()
		}
	}
	if err := result.Validate(); err != nil {
		metrics.IngestFailures.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("invalid execution result: %w", err)
	}

	metrics.ExecutionOutputsIngested.WithLabelValues(string(result.OutputMode), string(codec)).Add(float64(len(result.Data)))
	return &result, nil
}

// DecodeOutputs decodes a bare list of execution outputs. JSON input may be
// a single array or newline-delimited objects; msgpack input must be an array.
func DecodeOutputs(data []byte, codec Codec, maxBytes int64) ([]core.ExecutionOutput, error) {
	if err := checkSize(data, maxBytes); err != nil {
		metrics.IngestFailures.WithLabelValues("size").Inc()
		return nil, err
	}

	var outputs []core.ExecutionOutput
	var err error
	switch {
	case codec == CodecMsgpack:
		err = unmarshal(data, codec, &outputs)
		for i := range outputs {
			outputs[i].Details.Normalize()
		}
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")):
		err = json.Unmarshal(data, &outputs)
	default:
		outputs, err = decodeJSONLines(data)
	}
	if err != nil {
		metrics.IngestFailures.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("failed to decode execution outputs (%s): %w", codec, err)
	}

	metrics.ExecutionOutputsIngested.WithLabelValues(string(core.ModeInline), string(codec)).Add(float64(len(outputs)))
	return outputs, nil
}

// EncodeResult encodes an ExecutionResult with the given codec
func EncodeResult(result *core.ExecutionResult, codec Codec) ([]byte, error) {
	return encode(result, codec)
}

// EncodeOutputs encodes a bare list of execution outputs, the layout of an S3 payload
func EncodeOutputs(outputs []core.ExecutionOutput, codec Codec) ([]byte, error) {
	return encode(outputs, codec)
}

func encode(v any, codec Codec) ([]byte, error) {
	if codec == CodecMsgpack {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("failed to encode execution results: %w", err)
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(v)
}

func unmarshal(data []byte, codec Codec, v any) error {
	switch codec {
	case CodecMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		return dec.Decode(v)
	case CodecJSON, "":
		return json.Unmarshal(data, v)
	}
	return fmt.Errorf("unknown codec %q", codec)
}

func decodeJSONLines(data []byte) ([]core.ExecutionOutput, error) {
	var outputs []core.ExecutionOutput
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), len(data)+1)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var out core.ExecutionOutput
		if err := json.Unmarshal(text, &out); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		outputs = append(outputs, out)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func checkSize(data []byte, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(data), maxBytes)
	}
	return nil
}
