// Package telegram is a forum-aware Bot API client built on tgbotapi.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hray3182/topicmate/internal/format"
	"github.com/hray3182/topicmate/internal/logutil"
)

const maxDownloadBytes = 20 << 20

// Message is a Telegram message with the forum fields the library predates.
type Message struct {
	tgbotapi.Message
	MessageThreadID   int         `json:"message_thread_id,omitempty"`
	IsTopicMessage    bool        `json:"is_topic_message,omitempty"`
	ForumTopicCreated *ForumTopic `json:"forum_topic_created,omitempty"`
	ReplyToMessage    *Message    `json:"reply_to_message,omitempty"`
}

type ForumTopic struct {
	Name string `json:"name"`
}

type Update struct {
	UpdateID int      `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// ThreadID returns the forum thread of the message, 0 outside forum topics.
func (m *Message) ThreadID() int {
	if !m.IsTopicMessage {
		return 0
	}
	return m.MessageThreadID
}

// TopicTitle returns the forum topic name when Telegram included it.
func (m *Message) TopicTitle() string {
	if m.ForumTopicCreated != nil {
		return m.ForumTopicCreated.Name
	}
	if m.ReplyToMessage != nil && m.ReplyToMessage.ForumTopicCreated != nil {
		return m.ReplyToMessage.ForumTopicCreated.Name
	}
	return ""
}

// Client talks to the Bot API. Requests that need message_thread_id go
// through MakeRequest.
type Client struct {
	api          *tgbotapi.BotAPI
	http         *http.Client
	fileEndpoint string
	logger       *slog.Logger
}

// NewClient authorizes token against endpoint (tgbotapi.APIEndpoint when
// empty). Files are downloaded from the matching /file/ endpoint.
func NewClient(token, endpoint string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Client{
		api:          api,
		http:         httpClient,
		fileEndpoint: strings.Replace(endpoint, "/bot%s/", "/file/bot%s/", 1),
		logger:       logutil.OrDiscard(logger).With("component", "telegram"),
	}, nil
}

func (c *Client) Username() string {
	return c.api.Self.UserName
}

func (c *Client) BotID() int64 {
	return c.api.Self.ID
}

// GetUpdates long-polls for message updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset, timeout int) ([]Update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", timeout)
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return nil, err
	}

	resp, err := c.request(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}
	return updates, nil
}

// SendMessage renders Markdown text into entities and posts it to the
// thread, splitting long text. It returns the id of the last message sent.
func (c *Client) SendMessage(ctx context.Context, chatID int64, threadID int, text string) (int, error) {
	var lastID int
	for _, chunk := range format.Split(text, format.MaxMessageLength) {
		parsed := format.ParseMarkdown(chunk)
		if parsed.Text == "" {
			continue
		}

		params := tgbotapi.Params{}
		params.AddNonZero64("chat_id", chatID)
		params.AddNonZero("message_thread_id", threadID)
		params["text"] = parsed.Text
		if len(parsed.Entities) > 0 {
			if err := params.AddInterface("entities", parsed.Entities); err != nil {
				return lastID, err
			}
		}

		resp, err := c.request(ctx, "sendMessage", params)
		if err != nil {
			return lastID, fmt.Errorf("failed to send message: %w", err)
		}
		var sent tgbotapi.Message
		if err := json.Unmarshal(resp.Result, &sent); err != nil {
			return lastID, fmt.Errorf("failed to decode sent message: %w", err)
		}
		lastID = sent.MessageID
	}
	return lastID, nil
}

// SendTyping shows the typing indicator in the thread. Failures are logged only.
func (c *Client) SendTyping(ctx context.Context, chatID int64, threadID int) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_thread_id", threadID)
	params["action"] = tgbotapi.ChatTyping
	if _, err := c.request(ctx, "sendChatAction", params); err != nil {
		c.logger.Debug("Failed to send chat action", "chat_id", chatID, "error", err)
	}
}

// Download fetches a file by id.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}
	link := fmt.Sprintf(c.fileEndpoint, c.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, errors.New("file too large")
	}
	return data, nil
}

// request runs MakeRequest, giving up early when ctx ends. The library has
// no context support, so an abandoned request finishes in the background.
func (c *Client) request(ctx context.Context, method string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	type result struct {
		resp *tgbotapi.APIResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.api.MakeRequest(method, params)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("telegram %s: %w", method, r.err)
		}
		return r.resp, nil
	}
}
