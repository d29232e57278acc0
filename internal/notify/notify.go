package notify

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/levercycle/internal/workflow"
)

// Config webhook 配置
type Config struct {
	URL        string
	Headers    map[string]string
	Timeout    time.Duration
	RetryCount int
}

// Webhook 运行结束后把报告 POST 到 webhook
type Webhook struct {
	client *resty.Client
	url    string
	log    *logrus.Entry
}

// NewWebhook 创建通知器；URL 为空时返回 nil（调用方跳过通知）
func NewWebhook(cfg Config) *Webhook {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() == 429 || resp.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "levercycle")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	return &Webhook{client: client, url: url, log: logrus.WithField("component", "notify")}
}

// Payload webhook 请求体
type Payload struct {
	Event  string           `json:"event"` // run.settled | run.failed
	Report *workflow.Report `json:"report"`
}

// Send 发送报告
func (w *Webhook) Send(ctx context.Context, report *workflow.Report) error {
	if w == nil {
		return nil
	}
	if report == nil {
		return errors.New("report is nil")
	}
	event := "run.settled"
	if !report.Succeeded() {
		event = "run.failed"
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(Payload{Event: event, Report: report}).
		Post(w.url)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	if !resp.IsSuccess() {
		return errors.Errorf("webhook non-2xx: %d %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	w.log.WithFields(logrus.Fields{"run": report.RunID, "event": event}).Debug("已发送通知")
	return nil
}
