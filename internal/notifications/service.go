package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tilepipe/internal/config"
)

const userAgent = "tilepipe/0.1"

// Service is the notification surface used by the stage workers and the CLI.
type Service interface {
	NotifyLayerComplete(ctx context.Context, jobID, layerName, location string) error
	NotifyLayerFailed(ctx context.Context, jobID, layerName, stage string, cause error) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return NewNoop()
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return NewNoop()
	}
	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// NewNoop returns a Service that discards every notification.
func NewNoop() Service { return noopService{} }

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func displayName(jobID, layerName string) string {
	layerName = strings.TrimSpace(layerName)
	if layerName == "" || layerName == jobID {
		return jobID
	}
	return fmt.Sprintf("%s (%s)", layerName, jobID)
}

func (n *ntfyService) NotifyLayerComplete(ctx context.Context, jobID, layerName, location string) error {
	message := fmt.Sprintf("Layer ready: %s", displayName(jobID, layerName))
	if location = strings.TrimSpace(location); location != "" {
		message += "\nArtifact: " + location
	}
	return n.send(ctx, payload{
		title:   "tilepipe - Layer Complete",
		message: message,
		tags:    []string{"tilepipe", "layer", "completed"},
	})
}

func (n *ntfyService) NotifyLayerFailed(ctx context.Context, jobID, layerName, stage string, cause error) error {
	var builder strings.Builder
	builder.WriteString("Layer failed: ")
	builder.WriteString(displayName(jobID, layerName))
	if stage = strings.TrimSpace(stage); stage != "" {
		builder.WriteString("\nStage: ")
		builder.WriteString(stage)
	}
	builder.WriteString("\nError: ")
	if cause != nil {
		builder.WriteString(strings.TrimSpace(cause.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "tilepipe - Layer Failed",
		message:  builder.String(),
		tags:     []string{"tilepipe", "layer", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "tilepipe - Test",
		message:  "Notification system test",
		tags:     []string{"tilepipe", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyLayerComplete(context.Context, string, string, string) error { return nil }
func (noopService) NotifyLayerFailed(context.Context, string, string, string, error) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
