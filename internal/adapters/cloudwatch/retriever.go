package cloudwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"container-invoker/internal/core/functions"
	"container-invoker/pkg/poll"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/rs/zerolog"
)

// Retriever reads a finished task's result from its CloudWatch log group.
type Retriever struct {
	api    cloudwatchlogs.FilterLogEventsAPIClient
	naming functions.Naming
	policy poll.Policy
	lg     zerolog.Logger
}

var _ functions.ResultRetriever = (*Retriever)(nil)

func New(cfg aws.Config, naming functions.Naming, policy poll.Policy, lg zerolog.Logger) *Retriever {
	return NewWithAPI(cloudwatchlogs.NewFromConfig(cfg), naming, policy, lg)
}

func NewWithAPI(api cloudwatchlogs.FilterLogEventsAPIClient, naming functions.Naming, policy poll.Policy, lg zerolog.Logger) *Retriever {
	return &Retriever{
		api:    api,
		naming: naming,
		policy: policy,
		lg:     lg.With().Str("adapter", "cloudwatch").Logger(),
	}
}

// FetchResult polls the function's log streams until an event appears and
// returns the earliest one. Elapsed is the gap between the event's timestamp
// and its ingestion.
func (r *Retriever) FetchResult(ctx context.Context, def *functions.Definition) (functions.LogResult, error) {
	group := r.naming.LogGroup(def.Name)
	prefix := r.naming.LogStreamPrefix(def.Name)
	lg := r.lg.With().Str("log_group", group).Str("stream_prefix", prefix).Logger()

	event, err := poll.Until(ctx, r.policy, func(ctx context.Context, attempt int) (types.FilteredLogEvent, bool, error) {
		events, err := r.events(ctx, group, prefix)
		if err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				// The group appears once the task has logged.
				return types.FilteredLogEvent{}, false, poll.Retryable(err)
			}
			return types.FilteredLogEvent{}, false, err
		}
		if len(events) == 0 {
			lg.Debug().Int("attempt", attempt).Msg("no log events yet")
			return types.FilteredLogEvent{}, false, nil
		}
		return earliest(events), true, nil
	})
	if err != nil {
		return functions.LogResult{}, fmt.Errorf("read %s: %w", group, err)
	}

	msg := bytes.TrimSpace([]byte(aws.ToString(event.Message)))
	if !json.Valid(msg) {
		return functions.LogResult{}, fmt.Errorf("result event in %s is not valid JSON: %q", group, msg)
	}
	var body bytes.Buffer
	if err := json.Compact(&body, msg); err != nil {
		return functions.LogResult{}, fmt.Errorf("compact result: %w", err)
	}

	elapsed := time.Duration(aws.ToInt64(event.IngestionTime)-aws.ToInt64(event.Timestamp)) * time.Millisecond
	lg.Info().Dur("elapsed", elapsed).Msg("result retrieved")
	return functions.LogResult{Body: body.Bytes(), Elapsed: elapsed}, nil
}

// events reads every page of one filter query.
func (r *Retriever) events(ctx context.Context, group, prefix string) ([]types.FilteredLogEvent, error) {
	p := cloudwatchlogs.NewFilterLogEventsPaginator(r.api, &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:        aws.String(group),
		LogStreamNamePrefix: aws.String(prefix),
	})
	var out []types.FilteredLogEvent
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Events...)
	}
	return out, nil
}

func earliest(events []types.FilteredLogEvent) types.FilteredLogEvent {
	first := events[0]
	for _, e := range events[1:] {
		if aws.ToInt64(e.Timestamp) < aws.ToInt64(first.Timestamp) {
			first = e
		}
	}
	return first
}
