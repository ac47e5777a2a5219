package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	pollTimeout = 30 * time.Second
	pollRetry   = 5 * time.Second
)

// CommandHandler is called when an operator command is received and returns the reply.
type CommandHandler func(command string) string

type update struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// StartPolling long-polls for commands sent from the configured chat and
// answers them with handler. Messages from other chats are ignored. Blocks
// until ctx is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	client := &http.Client{Timeout: pollTimeout + 5*time.Second, Transport: t.Client.Transport}
	offset := 0
	for {
		updates, err := t.getUpdates(ctx, client, offset)
		if ctx.Err() != nil {
			log.Info("telegram polling stopped")
			return
		}
		if err != nil {
			log.Warnf("telegram polling: %v", err)
			select {
			case <-ctx.Done():
				log.Info("telegram polling stopped")
				return
			case <-time.After(pollRetry):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			if strconv.FormatInt(u.Message.Chat.ID, 10) != t.ChatID {
				log.Warnf("ignoring command from chat %d", u.Message.Chat.ID)
				continue
			}
			text := strings.TrimSpace(u.Message.Text)
			log.Infof("received command: %s", text)
			if reply := handler(text); reply != "" {
				if err := t.Send(reply); err != nil {
					log.Errorf("send reply: %v", err)
				}
			}
		}
	}
}

func (t *TelegramNotifier) getUpdates(ctx context.Context, client *http.Client, offset int) ([]update, error) {
	apiURL := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=%d",
		t.APIURL, t.BotToken, offset, int(pollTimeout.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var result updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return result.Result, nil
}
