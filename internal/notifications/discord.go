package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Embed colors per alert level
var discordColors = map[string]int{
	LevelInfo:     3447003,
	LevelWarning:  16776960,
	LevelError:    15158332,
	LevelCritical: 10038562,
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
	Color       int    `json:"color"`
}

// DiscordNotifier posts alerts to a Discord webhook as embeds
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordNotifier creates a webhook notifier; an empty URL sends nothing
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SendAlert implements Notifier
func (d *DiscordNotifier) SendAlert(level, message string) error {
	if d.webhookURL == "" || strings.TrimSpace(message) == "" {
		return nil
	}

	payload := discordMessage{Embeds: []discordEmbed{{
		Title:       "Risk Core " + strings.ToUpper(level),
		Description: message,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Color:       discordColors[level],
	}}}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	return nil
}
