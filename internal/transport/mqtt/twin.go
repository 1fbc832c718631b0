package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"factory_device/internal/models"
	"factory_device/internal/transport"
)

// twinDocument is the body of a twin GET response.
type twinDocument struct {
	Desired  json.RawMessage `json:"desired"`
	Reported json.RawMessage `json:"reported"`
}

// GetDesired fetches the full twin and returns its desired section.
func (c *Client) GetDesired(ctx context.Context) (models.DesiredDocument, error) {
	resp, err := c.request(ctx, c.topics.TwinGet, nil)
	if err != nil {
		return models.DesiredDocument{}, fmt.Errorf("%w: %w", transport.ErrFetchFailed, err)
	}
	var twin twinDocument
	if err := json.Unmarshal(resp.Payload, &twin); err != nil {
		return models.DesiredDocument{}, fmt.Errorf("%w: decode twin: %w", transport.ErrFetchFailed, err)
	}
	if len(twin.Desired) == 0 {
		return models.DesiredDocument{Fields: map[string]json.RawMessage{}}, nil
	}
	doc, err := models.ParseDesired(twin.Desired)
	if err != nil {
		return models.DesiredDocument{}, fmt.Errorf("%w: %w", transport.ErrFetchFailed, err)
	}
	return doc, nil
}

// PushReported patches the reported-properties document.
func (c *Client) PushReported(ctx context.Context, doc []byte) error {
	if _, err := c.request(ctx, c.topics.ReportedPatch, doc); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrPushFailed, err)
	}
	return nil
}

// request publishes a twin request and waits for the response carrying the same $rid.
func (c *Client) request(ctx context.Context, topicFor func(rid string) string, payload []byte) (twinResponse, error) {
	rid := uuid.NewString()
	ch := make(chan twinResponse, 1)

	c.pendingMu.Lock()
	c.pending[rid] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, rid)
		c.pendingMu.Unlock()
	}()

	if payload == nil {
		payload = []byte{}
	}
	if err := c.publish(ctx, topicFor(rid), 0, payload); err != nil {
		return twinResponse{}, err
	}

	t := time.NewTimer(c.cfg.RequestTimeout)
	defer t.Stop()
	select {
	case resp := <-ch:
		if resp.Status < 200 || resp.Status > 299 {
			return resp, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.Status)
		}
		return resp, nil
	case <-t.C:
		return twinResponse{}, fmt.Errorf("%w: no twin response for $rid=%s after %v", ErrTimeout, rid, c.cfg.RequestTimeout)
	case <-c.closed:
		return twinResponse{}, transport.ErrClosed
	case <-ctx.Done():
		return twinResponse{}, ctx.Err()
	}
}

// handleTwinResponse delivers a response to the request waiting on its $rid.
func (c *Client) handleTwinResponse(topic string, payload []byte) error {
	status, rid, err := parseTwinResponseTopic(topic)
	if err != nil {
		return err
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[rid]
	c.pendingMu.Unlock()
	if !ok {
		c.log.Debugw("twin_response_unmatched", "rid", rid, "status", status)
		return nil
	}
	select {
	case ch <- twinResponse{Status: status, RID: rid, Payload: append([]byte(nil), payload...)}:
	default:
	}
	return nil
}
