package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/assistant"
	"github.com/Joseda-hg/taskchat/internal/model"
)

const (
	DefaultHistoryLimit = 12
	defaultTimeout      = 60 * time.Second
)

// SnapshotFunc returns the serialized task state sent as system context.
type SnapshotFunc func(ctx context.Context) (string, error)

type OllamaConfig struct {
	Host         string
	Model        string
	APIKey       string
	Timeout      time.Duration
	HistoryLimit int
}

type OllamaClient struct {
	client       *api.Client
	model        string
	timeout      time.Duration
	historyLimit int
	needsKey     bool
	snapshot     SnapshotFunc
	logger       *log.Logger
}

func NewOllamaClient(cfg OllamaConfig, snapshot SnapshotFunc, logger *log.Logger) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("assistant model is required")
	}
	host := cfg.Host
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	base, err := url.Parse(host)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid assistant host %q", cfg.Host)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	httpClient := &http.Client{Transport: bearerTransport{key: cfg.APIKey, base: http.DefaultTransport}}
	return &OllamaClient{
		client:       api.NewClient(base, httpClient),
		model:        cfg.Model,
		timeout:      cfg.Timeout,
		historyLimit: cfg.HistoryLimit,
		needsKey:     !isLocalHost(base.Hostname()) && cfg.APIKey == "",
		snapshot:     snapshot,
		logger:       logger,
	}, nil
}

func (o *OllamaClient) Send(ctx context.Context, message string, history []model.ChatMessage) (string, error) {
	if o.needsKey {
		return "", fmt.Errorf("remote host requires an api key: %w", ErrMissingCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	state := "{}"
	if o.snapshot != nil {
		value, err := o.snapshot(ctx)
		if err != nil {
			o.logger.WithError(err).Warn("build task snapshot")
		} else {
			state = value
		}
	}

	messages := []api.Message{{Role: "system", Content: assistant.SystemPrompt(state)}}
	for _, item := range TrimHistory(history, o.historyLimit) {
		role := "user"
		if item.Sender == model.SenderAssistant {
			role = "assistant"
		}
		messages = append(messages, api.Message{Role: role, Content: item.Text})
	}
	messages = append(messages, api.Message{Role: "user", Content: message})

	stream := false
	request := &api.ChatRequest{Model: o.model, Messages: messages, Stream: &stream}

	var reply strings.Builder
	err := o.client.Chat(ctx, request, func(response api.ChatResponse) error {
		reply.WriteString(response.Message.Content)
		return nil
	})
	if err != nil {
		return "", classify(ctx, err)
	}

	text := strings.TrimSpace(reply.String())
	if text == "" {
		return "", fmt.Errorf("empty reply: %w", ErrMalformedResponse)
	}
	o.logger.WithFields(log.Fields{"model": o.model, "history": len(messages) - 2}).Debug("assistant replied")
	return text, nil
}

func classify(ctx context.Context, err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w", status.Status, ErrMissingCredential)
		}
		return fmt.Errorf("assistant returned %d: %w", status.StatusCode, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "unauthorized") {
		return fmt.Errorf("%v: %w", err, ErrMissingCredential)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || (errors.As(err, &opErr) && opErr.Op == "dial") {
		return fmt.Errorf("%v: %w", err, ErrHostUnresolvable)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%v: %w", err, ErrMalformedResponse)
	}
	return err
}

func isLocalHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type bearerTransport struct {
	key  string
	base http.RoundTripper
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.key == "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.key)
	return t.base.RoundTrip(clone)
}
