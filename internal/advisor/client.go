// Package advisor owns the reasoning-service boundary: rendering a frame
// observation into the request prompt, the HTTP round-trip, and the
// rate-limited background dispatcher that keeps at most one request in
// flight. Failures at this boundary never cross it as errors; they come
// back as bracketed diagnostic strings the command parser ignores.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/model"
)

// systemPrompt steers the reasoning service toward scene analysis plus
// concrete flight suggestions in the command grammar the parser understands.
const systemPrompt = "你是一个无人机智能决策助手。请根据以下检测到的地面目标信息，完成以下任务：" +
	"1. 分析每个目标的类型、大致距离（米）、可能的行为（如“静止”、“移动”、“聚集”）。" +
	"2. 判断是否存在异常或高优先级目标（如人群聚集、违停车辆）。" +
	"3. 给出1-2条具体的飞行任务建议（例如：“飞向ID 3的公交车进行车牌识别”，“远离人群区域保持50米以上高度”）。" +
	"4. 用简洁中文输出，不要使用Markdown。"

// noTargetsText is returned without a network call when the observation is
// empty.
const noTargetsText = "当前画面中未检测到任何目标。"

// Diagnostic strings stand in for an advisory when the round-trip fails.
// They are distinguishable from genuine advisories only by their bracketed
// prefix, and by construction they match no command rule.
const (
	diagStatusPrefix  = "[API 错误]"
	diagFailurePrefix = "[API 调用失败]"
	diagParsePrefix   = "[解析失败]"

	diagEmptyBody  = diagFailurePrefix + " 服务器返回空内容"
	diagTimeout    = diagFailurePrefix + " 请求超时，请检查网络连接"
	diagConnection = diagFailurePrefix + " 网络连接错误，请检查代理或防火墙设置"
)

// IsDiagnostic reports whether text is a dispatcher-generated diagnostic
// rather than a genuine advisory.
func IsDiagnostic(text string) bool {
	for _, p := range []string{diagStatusPrefix, diagFailurePrefix, diagParsePrefix} {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// RenderObservation produces the deterministic one-line-per-object listing
// sent as the user message: id, class, confidence to two decimals, distance
// to one decimal or the unknown marker.
func RenderObservation(obs model.FrameObservation) string {
	lines := make([]string, 0, len(obs))
	for _, o := range obs {
		dist := "未知"
		if o.KnownDistance() {
			dist = fmt.Sprintf("%.1f", o.DistanceM)
		}
		lines = append(lines, fmt.Sprintf("ID%d: %s (置信度%.2f, 距离%s米)",
			o.ID, o.ClassName, o.Confidence, dist))
	}
	return strings.Join(lines, "\n")
}

// Client posts observations to a chat-completions style reasoning service.
type Client struct {
	url    string
	model  string
	apiKey string
	httpc  *http.Client
	log    logging.Logger
}

// NewClient builds a client from configuration. The API key is read from
// the configured environment variable; a missing key is a startup error,
// not a per-request one.
func NewClient(cfg model.AdvisoryConfig, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.Noop()
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("advisory API key not set (env %s)", cfg.APIKeyEnv)
	}
	return &Client{
		url:    cfg.URL,
		model:  cfg.Model,
		apiKey: apiKey,
		httpc:  &http.Client{Timeout: cfg.Timeout()},
		log:    log,
	}, nil
}

// NewClientWithHTTP injects the HTTP client and key directly; used by tests
// and by callers that manage credentials themselves.
func NewClientWithHTTP(url, model, apiKey string, httpc *http.Client, log logging.Logger) *Client {
	if log == nil {
		log = logging.Noop()
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{url: url, model: model, apiKey: apiKey, httpc: httpc, log: log}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the observation and returns the advisory text, or a
// diagnostic string on any failure. It never returns an error: a bad cycle
// must not halt the frame loop, and the parser treats diagnostics as
// "no command".
func (c *Client) Analyze(ctx context.Context, obs model.FrameObservation) string {
	if len(obs) == 0 {
		return noTargetsText
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "输入数据：\n" + RenderObservation(obs)},
		},
		Temperature: 0.3,
		Stream:      false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Error(ctx, "encode advisory request", logging.Err(err))
		return diagConnection
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		c.log.Error(ctx, "build advisory request", logging.Err(err))
		return diagConnection
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug(ctx, "calling reasoning service", logging.Int("targets", len(obs)))
	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.log.Error(ctx, "reasoning service timed out", logging.Err(err))
			return diagTimeout
		}
		c.log.Error(ctx, "reasoning service unreachable", logging.Err(err))
		return diagConnection
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error(ctx, "read advisory response", logging.Err(err))
		return diagConnection
	}

	if resp.StatusCode != http.StatusOK {
		snippet := truncate(string(raw), 200)
		if snippet == "" {
			snippet = "[无响应体]"
		}
		c.log.Error(ctx, "reasoning service returned error status",
			logging.Int("status", resp.StatusCode), logging.String("body", snippet))
		return fmt.Sprintf("%s 状态码: %d\n响应: %s...", diagStatusPrefix, resp.StatusCode, snippet)
	}

	if strings.TrimSpace(string(raw)) == "" {
		c.log.Error(ctx, "reasoning service returned empty body")
		return diagEmptyBody
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		c.log.Error(ctx, "malformed advisory response",
			logging.String("body", truncate(string(raw), 200)))
		return fmt.Sprintf("%s 非预期响应格式\n原始内容: %s...", diagParsePrefix, truncate(string(raw), 100))
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		c.log.Error(ctx, "advisory response carried no content")
		return fmt.Sprintf("%s 非预期响应格式\n原始内容: %s...", diagParsePrefix, truncate(string(raw), 100))
	}
	c.log.Info(ctx, "advisory received", logging.Int("chars", len(content)))
	return content
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
