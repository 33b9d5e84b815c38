package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/sentinel/pkg/logger"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultRetryCount    = 3
	defaultRetryWait     = 1 * time.Second
	defaultRetryMaxWait  = 10 * time.Second
	defaultRateLimitWait = 10 * time.Second
	defaultUserAgent     = "sentinel-dashboard/1.0"
)

type Client struct {
	client *resty.Client
}

// Options 客户端选项，零值使用默认值
type Options struct {
	Timeout      time.Duration
	RetryCount   *int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	ProxyURL     string
	UserAgent    string
}

func NewClient(host string) *Client {
	return NewClientWithOptions(host, Options{})
}

func NewClientWithOptions(host string, opts Options) *Client {
	host = strings.TrimRight(host, "/")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryCount := defaultRetryCount
	if opts.RetryCount != nil {
		retryCount = *opts.RetryCount
	}
	retryWait := opts.RetryWait
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}
	retryMaxWait := opts.RetryMaxWait
	if retryMaxWait <= 0 {
		retryMaxWait = defaultRetryMaxWait
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY, http_proxy, https_proxy）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryMaxWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil {
				return false
			}
			idempotent := resp.Request.Method == http.MethodGet
			// 429 总是重试；网络错误和 5xx 只重试幂等的 GET
			if err != nil {
				return idempotent
			}
			if resp.StatusCode() == http.StatusTooManyRequests {
				return true
			}
			return idempotent && resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 如果遇到 429 限流，使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
						return time.Duration(seconds) * time.Second, nil
					}
				}
				return defaultRateLimitWait, nil
			}
			return 0, nil
		}).
		OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			logger.Debugf("[api] %s %s -> %d (%v)", resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time())
			return nil
		})

	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}

	return &Client{client: client}
}

type RequestOptions struct {
	Headers map[string]string
	Data    any
	Params  map[string]any
}

// 仅设置本次请求的默认 Header（不要再改 client 级 Header）
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	return r
}

// DoRequest 发送请求，out 非空时把 2xx 响应体解析到 out
// 只返回传输层错误；非 2xx 由调用方根据 resp 判断
func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}
	if out != nil {
		rc.SetResult(out)
	}

	var (
		resp *resty.Response
		err  error
	)
	switch strings.ToUpper(method) {
	case http.MethodGet:
		resp, err = rc.Get(endpoint)
	case http.MethodPost:
		resp, err = rc.Post(endpoint)
	case http.MethodDelete:
		resp, err = rc.Delete(endpoint)
	case http.MethodPut:
		resp, err = rc.Put(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
	if err != nil {
		return resp, errors.Wrapf(err, "%s %s", strings.ToUpper(method), endpoint)
	}
	return resp, nil
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}
