package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	pkghttp "index_trader/pkg/http"
)

type SlackChannel struct {
	webhookURL string
	client     *pkghttp.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     pkghttp.NewClient(webhookURL, pkghttp.Options{Timeout: 5 * time.Second, MaxRetries: 2}, nil),
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert AlertPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f" // Green (Info)
	switch alert.Level {
	case Warning:
		color = "#ffcc00"
	case Error:
		color = "#ff0000"
	case Critical:
		color = "#8b0000"
	}

	var fields []map[string]interface{}
	for _, k := range sortedFieldKeys(alert.Fields) {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": alert.Fields[k],
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
				"text":    alert.Message,
				"fields":  fields,
				"ts":      alert.Timestamp.Unix(),
				"footer":  "index_trader",
			},
		},
	}

	if _, err := s.client.PostJSON(ctx, "", payload); err != nil {
		return fmt.Errorf("slack webhook failed: %w", err)
	}
	return nil
}

func sortedFieldKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
