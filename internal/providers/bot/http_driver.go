package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPDriver talks to the automation worker:
//
//	POST   {base}/sessions        start a bot, responds once it is in the call
//	GET    {base}/sessions/{id}   {"connected": bool}
//	DELETE {base}/sessions/{id}   leave
type HTTPDriver struct {
	BaseURL      string
	Token        string
	Client       *http.Client
	PollInterval time.Duration
	Log          logrus.FieldLogger
}

func NewHTTPDriver(baseURL, token string, log logrus.FieldLogger) *HTTPDriver {
	return &HTTPDriver{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		Client:       &http.Client{Timeout: 2 * time.Minute},
		PollInterval: 5 * time.Second,
		Log:          log,
	}
}

type joinBody struct {
	SessionID   string `json:"session_id"`
	MeetingID   string `json:"meeting_id"`
	MeetingURL  string `json:"meeting_url"`
	BotName     string `json:"bot_name"`
	RecordAudio bool   `json:"record_audio"`
}

type statusBody struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (d *HTTPDriver) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

func readErr(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var s statusBody
	if json.Unmarshal(b, &s) == nil && s.Error != "" {
		return fmt.Errorf("bot worker (HTTP %d): %s", resp.StatusCode, s.Error)
	}
	return fmt.Errorf("bot worker (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func (d *HTTPDriver) Join(ctx context.Context, req JoinRequest) (Conn, error) {
	resp, err := d.do(ctx, http.MethodPost, "/sessions", joinBody{
		SessionID:   req.SessionID,
		MeetingID:   req.MeetingID,
		MeetingURL:  req.JoinURL,
		BotName:     req.DisplayName,
		RecordAudio: req.RecordAudio,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, readErr(resp)
	}

	c := &httpConn{
		d:    d,
		id:   req.SessionID,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	c.connected.Store(true)
	go c.watch()
	return c, nil
}

type httpConn struct {
	d  *HTTPDriver
	id string

	connected atomic.Bool
	doneOnce  sync.Once
	done      chan struct{}
	stopOnce  sync.Once
	stop      chan struct{}
}

func (c *httpConn) Done() <-chan struct{} { return c.done }
func (c *httpConn) Connected() bool       { return c.connected.Load() }

func (c *httpConn) markDone() {
	c.connected.Store(false)
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *httpConn) path() string { return "/sessions/" + url.PathEscape(c.id) }

// watch polls the worker until it reports the bot gone. Transport errors
// are tolerated; only an explicit disconnect or 404 ends the conn.
func (c *httpConn) watch() {
	interval := c.d.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		gone, err := c.poll(ctx)
		cancel()
		if err != nil {
			if c.d.Log != nil {
				c.d.Log.WithError(err).WithField("session_id", c.id).Debug("polling bot status")
			}
			continue
		}
		if gone {
			c.markDone()
			return
		}
	}
}

func (c *httpConn) poll(ctx context.Context) (bool, error) {
	resp, err := c.d.do(ctx, http.MethodGet, c.path(), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, readErr(resp)
	}
	var s statusBody
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return false, err
	}
	return !s.Connected, nil
}

// Leave asks the worker to exit the call. The conn counts as done
// afterwards even if the request failed.
func (c *httpConn) Leave(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	if !c.Connected() {
		c.markDone()
		return nil
	}
	defer c.markDone()

	resp, err := c.d.do(ctx, http.MethodDelete, c.path(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return readErr(resp)
	}
	return nil
}
