package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gatekeeper/core"
	"gatekeeper/ingest"

	"github.com/vmihailenco/msgpack/v5"
)

// outputResolver is satisfied by ingest.S3Resolver
type outputResolver interface {
	Resolve(ctx context.Context, result *core.ExecutionResult) ([]core.ExecutionOutput, error)
}

// readInputFile reads a whole file, refusing anything over maxInputFileSize
func readInputFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > maxInputFileSize {
		return nil, fmt.Errorf("%s exceeds maximum size of %d bytes", path, maxInputFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// loadExecutionOutputs reads an execution result envelope, resolving S3 mode through
// resolver, or falls back to a bare list of outputs.
func loadExecutionOutputs(ctx context.Context, path string, maxBytes int64, resolver outputResolver) ([]core.ExecutionOutput, error) {
	data, err := readInputFile(path)
	if err != nil {
		return nil, err
	}
	codec := ingest.CodecForKey(path)

	if looksLikeEnvelope(data, codec) {
		result, err := ingest.DecodeResult(data, codec, maxBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to decode execution result %s: %w", path, err)
		}
		return resolver.Resolve(ctx, result)
	}

	outputs, err := ingest.DecodeOutputs(data, codec, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode execution outputs %s: %w", path, err)
	}
	return outputs, nil
}

// looksLikeEnvelope reports whether data is a single object carrying output_mode
func looksLikeEnvelope(data []byte, codec ingest.Codec) bool {
	if codec == ingest.CodecMsgpack {
		var probe struct {
			OutputMode string `msgpack:"output_mode"`
		}
		// A msgpack array of outputs fails to decode into the struct
		return msgpack.Unmarshal(data, &probe) == nil && probe.OutputMode != ""
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var probe struct {
		OutputMode *string `json:"output_mode"`
	}
	if err := dec.Decode(&probe); err != nil || probe.OutputMode == nil {
		return false
	}
	// JSON lines carry more than one value
	var extra json.RawMessage
	return errors.Is(dec.Decode(&extra), io.EOF)
}

// readEvents reads a JSON array of events or one event per line
func readEvents(path string) ([]map[string]any, error) {
	data, err := readInputFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []map[string]any
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("failed to parse events %s: %w", path, err)
		}
		return events, nil
	}

	var events []map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for {
		var event map[string]any
		err := dec.Decode(&event)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse event %d in %s: %w", len(events)+1, path, err)
		}
		events = append(events, event)
	}
	return events, nil
}
