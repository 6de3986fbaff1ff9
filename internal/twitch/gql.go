package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dropwatch/internal/telemetry"
)

// ErrUnauthorized means the access token was rejected. The session has
// to be validated again with a fresh token before retrying.
var ErrUnauthorized = errors.New("twitch: unauthorized")

// gqlError is one error entry of a GQL response envelope.
type gqlError struct {
	Message string `json:"message"`
}

// gqlResponse is the envelope every GQL call returns.
type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// gql executes one persisted operation and decodes its data payload
// into out.
func (c *Client) gql(ctx context.Context, op GQLOperation, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "gql."+op.OperationName,
		trace.WithAttributes(attribute.String("twitch.operation", op.OperationName)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	start := time.Now()
	err := c.doGQL(ctx, op, out)
	c.metrics.GQLRequestDuration.WithLabelValues(op.OperationName).Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.GQLRequestsTotal.WithLabelValues(op.OperationName, "error").Inc()
		telemetry.MarkSpanError(ctx, err)
		return err
	}
	c.metrics.GQLRequestsTotal.WithLabelValues(op.OperationName, "ok").Inc()
	return nil
}

func (c *Client) doGQL(ctx context.Context, op GQLOperation, out any) error {
	reqBody, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.GQLURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "OAuth "+c.auth.AccessToken())
	req.Header.Set("Client-Id", c.config.ClientID)
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s: %w", op.OperationName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gql returned error %d: %s", resp.StatusCode, string(body))
	}

	var envelope gqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%s failed: %s", op.OperationName, envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to parse %s data: %w", op.OperationName, err)
		}
	}
	return nil
}
