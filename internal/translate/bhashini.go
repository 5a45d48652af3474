package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrBadResponse reports a provider reply that cannot be aligned with the
// batch that produced it.
var ErrBadResponse = errors.New("translation provider returned an unusable response")

// Bhashini calls the Dhruva inference pipeline for one batch of texts.
type Bhashini struct {
	endpoint   string
	apiKey     string
	source     string
	httpClient *http.Client
	maxElapsed time.Duration
	logger     *zap.Logger
}

func NewBhashini(endpoint, apiKey, source string, timeout, maxElapsed time.Duration, logger *zap.Logger) *Bhashini {
	return &Bhashini{
		endpoint:   endpoint,
		apiKey:     apiKey,
		source:     source,
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: maxElapsed,
		logger:     logger.Named("bhashini"),
	}
}

type pipelineRequest struct {
	PipelineTasks []pipelineTask `json:"pipelineTasks"`
	InputData     struct {
		Input []pipelineInput `json:"input"`
	} `json:"inputData"`
}

type pipelineTask struct {
	TaskType string `json:"taskType"`
	Config   struct {
		Language struct {
			SourceLanguage string `json:"sourceLanguage"`
			TargetLanguage string `json:"targetLanguage"`
		} `json:"language"`
	} `json:"config"`
}

type pipelineInput struct {
	Source string `json:"source"`
}

type pipelineResponse struct {
	PipelineResponse []struct {
		Output []struct {
			Source string `json:"source"`
			Target string `json:"target"`
		} `json:"output"`
	} `json:"pipelineResponse"`
}

// TranslateBatch returns one translation per input, in input order.
// Transient failures (network, 429, 5xx) are retried with exponential
// backoff until maxElapsed.
func (b *Bhashini) TranslateBatch(ctx context.Context, texts []string, target string) ([]string, error) {
	var req pipelineRequest
	task := pipelineTask{TaskType: "translation"}
	task.Config.Language.SourceLanguage = b.source
	task.Config.Language.TargetLanguage = target
	req.PipelineTasks = []pipelineTask{task}
	req.InputData.Input = make([]pipelineInput, len(texts))
	for i, t := range texts {
		req.InputData.Input[i] = pipelineInput{Source: t}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline request: %w", err)
	}

	var out []string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", b.apiKey)

		start := time.Now()
		resp, err := b.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			b.logger.Warn("network error during translation, retrying", zap.Error(err))
			return fmt.Errorf("post pipeline: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return b.statusError(resp.StatusCode, respBody)
		}

		var parsed pipelineResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrBadResponse, err))
		}
		if len(parsed.PipelineResponse) == 0 || len(parsed.PipelineResponse[0].Output) != len(texts) {
			return backoff.Permanent(fmt.Errorf("%w: expected %d outputs", ErrBadResponse, len(texts)))
		}

		out = make([]string, len(texts))
		for i, o := range parsed.PipelineResponse[0].Output {
			out[i] = o.Target
		}
		b.logger.Debug("batch translated",
			zap.Int("inputs", len(texts)),
			zap.String("target", target),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}

	if err := backoff.Retry(operation, b.policy(ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bhashini) policy(ctx context.Context) backoff.BackOffContext {
	if b.maxElapsed <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.MaxInterval = 2 * time.Second
	exp.MaxElapsedTime = b.maxElapsed
	return backoff.WithContext(exp, ctx)
}

func (b *Bhashini) statusError(status int, body []byte) error {
	err := fmt.Errorf("bhashini: status %d: %s", status, truncate(body, 200))
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, http.StatusInternalServerError:
		b.logger.Warn("transient translation error", zap.Int("status", status))
		return err
	default:
		return backoff.Permanent(err)
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
