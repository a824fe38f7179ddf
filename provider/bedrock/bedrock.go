// Package bedrock implements the supplemental provider.StreamFn adapter for
// Anthropic-on-Bedrock via the Converse Stream API (SPEC_FULL.md §C.1). It
// emits the same normalized event vocabulary as the other four adapters and
// is subject to the same ordering contract and post-stream stop-reason
// resolution rule (spec §4.2); only request encoding and event translation
// differ. Grounded on goadesign-goa-ai/features/model/bedrock/client.go and
// stream.go — unlike the SSE-based adapters, there is no raw byte stream to
// parse: the AWS SDK's ConverseStreamEventStream already yields typed Go
// events, so this adapter has no sse.Parser dependency.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/telemetry"
)

const defaultMaxTokens = 4096

// RuntimeClient is the subset of *bedrockruntime.Client this adapter calls,
// mirroring the teacher's RuntimeClient seam so tests can substitute a fake
// stream without a live AWS account.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Adapter wires an AWS Bedrock runtime client and tool set into a
// provider.StreamFn closure.
type Adapter struct {
	Runtime   RuntimeClient
	ModelID   string
	Tools     []model.ToolDefinition
	MaxTokens int

	// Abort is polled between stream events (spec §5); on observing it set,
	// the adapter stops reading and emits a terminal aborted message.
	Abort *atomic.Bool

	Telemetry telemetry.Bundle
}

// New constructs an Adapter ready to be used as a provider.StreamFn. modelID
// is the Bedrock model identifier (e.g. an inference profile ARN or
// "anthropic.claude-3-5-sonnet-...") used when the caller's Stream call does
// not override it.
func New(runtime RuntimeClient, modelID string, tools []model.ToolDefinition, abort *atomic.Bool, tel telemetry.Bundle) *Adapter {
	if abort == nil {
		abort = &atomic.Bool{}
	}
	return &Adapter{Runtime: runtime, ModelID: modelID, Tools: tools, MaxTokens: defaultMaxTokens, Abort: abort, Telemetry: tel}
}

// Stream implements provider.StreamFn.
func (a *Adapter) Stream(modelID string, messages []model.Message, emit func(provider.Event)) error {
	ctx := context.Background()
	if modelID == "" {
		modelID = a.ModelID
	}

	parts, err := encodeRequest(modelID, messages, a.Tools, a.MaxTokens)
	if err != nil {
		emitError(emit, err.Error())
		return nil
	}

	out, err := a.Runtime.ConverseStream(ctx, parts.input)
	if err != nil {
		emitError(emit, "bedrock: converse stream: "+classifyError(err))
		return nil
	}
	stream := out.GetStream()
	if stream == nil {
		emitError(emit, "bedrock: stream output missing event stream")
		return nil
	}
	defer stream.Close()

	dec := newDecoder(modelID, parts.sanToCanon)
	events := stream.Events()
	emit(provider.Event{Kind: provider.KindStart, Partial: &model.Message{Role: model.RoleAssistant, Provider: "bedrock", Model: modelID}})
	for {
		if a.Abort != nil && a.Abort.Load() {
			dec.emitAborted(emit)
			return nil
		}
		ev, ok := <-events
		if !ok {
			if serr := stream.Err(); serr != nil {
				emit(provider.Event{
					Kind: provider.KindError, ErrorMessage: serr.Error(),
					Message: &model.Message{Role: model.RoleAssistant, StopReason: model.StopError, ErrorMessage: serr.Error(), Provider: "bedrock", Model: modelID},
				})
				return nil
			}
			if !dec.done {
				dec.finish(emit)
			}
			return nil
		}
		if err := dec.handle(ev, emit); err != nil {
			if a.Telemetry.Metrics != nil {
				a.Telemetry.Metrics.IncCounter("provider.decode_errors", 1, "provider", "bedrock")
			}
			emitError(emit, err.Error())
			return nil
		}
		if dec.done {
			return nil
		}
	}
}

func emitError(emit func(provider.Event), msg string) {
	emit(provider.Event{Kind: provider.KindStart, Partial: &model.Message{Role: model.RoleAssistant}})
	emit(provider.Event{
		Kind: provider.KindError, ErrorMessage: msg,
		Message: &model.Message{Role: model.RoleAssistant, StopReason: model.StopError, ErrorMessage: msg, Provider: "bedrock"},
	})
}

// IsRetryable classifies a Bedrock error as transient per the teacher's
// isRateLimited: throttling/too-many-requests API errors, or a bare HTTP 429
// response, are retryable; everything else is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

func classifyError(err error) string {
	if IsRetryable(err) {
		return fmt.Sprintf("retryable: %v", err)
	}
	return err.Error()
}

var _ RuntimeClient = (*bedrockruntime.Client)(nil)
