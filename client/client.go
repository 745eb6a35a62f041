package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
	"github.com/hupe1980/speakmesh/stream"
	"github.com/hupe1980/speakmesh/summary"
	"github.com/hupe1980/speakmesh/vocab"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

var (
	// ErrRetriesExhausted is returned when a Turn could not be read to its
	// terminal event within MaxRetries reconnections.
	ErrRetriesExhausted = errors.New("turn abandoned after retries")

	errStreamEnded = errors.New("stream ended before the turn completed")
)

// Options configure a Client.
type Options struct {
	HTTPClient *http.Client
	// MaxRetries bounds reconnections per Turn.
	MaxRetries int
	// BaseDelay is the first reconnection delay; attempt k waits BaseDelay×2^k.
	BaseDelay time.Duration
	Player    Player
	// OnStatus observes state changes of the open Turn.
	OnStatus func(Status)
	// OnEvent observes every applied event, e.g. for incremental rendering.
	OnEvent func(core.Event)
	Logger  logging.Logger
}

// Status describes the open Turn for display.
type Status struct {
	TurnID     string
	State      State
	Attempt    int
	MaxRetries int
	Delay      time.Duration
	Err        error
}

func (s Status) String() string {
	if s.State == StateReconnecting {
		return fmt.Sprintf("reconnecting, attempt %d of %d", s.Attempt, s.MaxRetries)
	}
	return s.State.String()
}

// Input is one utterance: Text or Audio.
type Input struct {
	Text        string
	Audio       []byte
	AudioFormat string
	Speak       bool
}

// Result is the outcome of a submitted Turn.
type Result struct {
	ThreadID string
	TurnID   string
	// Events are the events of the attempt that reached the terminal event.
	Events   []core.Event
	Attempts int
}

// Client talks to a speakmesh server. Each Turn uses its own connection;
// Turns on one Client must not overlap.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	onStatus   func(Status)
	onEvent    func(core.Event)
	logger     logging.Logger
	conv       *Conversation
}

// New creates a Client for the server at baseURL.
func New(baseURL string, optFns ...func(o *Options)) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("client: base url is required")
	}
	opts := Options{
		HTTPClient: http.DefaultClient,
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		onStatus:   opts.OnStatus,
		onEvent:    opts.OnEvent,
		logger:     opts.Logger,
		conv:       NewConversation(opts.Player, opts.Logger),
	}, nil
}

// Conversation returns the local view of the current thread.
func (c *Client) Conversation() *Conversation { return c.conv }

// Submit sends in as a new Turn and reads it to completion. A broken stream
// is resumed by resending the same turn id, so the server replays the Turn
// instead of appending the utterance again.
func (c *Client) Submit(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Text) == "" && len(in.Audio) == 0 {
		return nil, fmt.Errorf("%w: message is empty", core.ErrInvalidInput)
	}

	turnID := core.NewID()
	local := in.Text
	if len(in.Audio) > 0 {
		local = PendingVoiceText
	}
	c.conv.BeginTurn(turnID, local)

	m := NewTurnMachine()
	res := &Result{TurnID: turnID}
	attempt := func() error {
		if m.State() == StateIdle || m.State() == StateReconnecting {
			if err := m.Transition(StateAwaitingFirstEvent); err != nil {
				return backoff.Permanent(err)
			}
		}
		res.Attempts++
		res.Events = res.Events[:0]
		c.status(Status{TurnID: turnID, State: m.State(), Attempt: res.Attempts - 1, MaxRetries: c.maxRetries})
		return c.readTurn(ctx, turnID, in, m, res)
	}
	notify := func(err error, delay time.Duration) {
		_ = m.Transition(StateReconnecting)
		c.logger.Warn("Turn stream failed", "turn_id", turnID, "attempt", res.Attempts, "delay", delay, "error", err.Error())
		c.status(Status{TurnID: turnID, State: StateReconnecting, Attempt: res.Attempts, MaxRetries: c.maxRetries, Delay: delay, Err: err})
	}

	err := backoff.RetryNotify(attempt, c.policy(ctx), notify)
	res.ThreadID = c.conv.ThreadID()
	if err == nil {
		c.status(Status{TurnID: turnID, State: StateTerminal, Attempt: res.Attempts - 1, MaxRetries: c.maxRetries})
		return res, nil
	}

	if m.State() != StateTerminal {
		_ = m.Transition(StateTerminal)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.conv.Abandon(turnID, ctxErr.Error())
		return res, ctxErr
	}
	var perm *requestError
	if errors.As(err, &perm) && !perm.retryable() {
		c.conv.Abandon(turnID, perm.Error())
		return res, err
	}
	c.conv.Abandon(turnID, "Connection lost. Please resend your message.")
	c.status(Status{TurnID: turnID, State: StateTerminal, Attempt: res.Attempts - 1, MaxRetries: c.maxRetries, Err: err})
	return res, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
}

// policy yields BaseDelay×2^k for reconnection k, without jitter.
func (c *Client) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.baseDelay << uint(c.maxRetries)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

func (c *Client) status(s Status) {
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

// readTurn performs one attempt: open the stream and apply events until the
// terminal event.
func (c *Client) readTurn(ctx context.Context, turnID string, in Input, m *TurnMachine, res *Result) error {
	req, err := c.turnRequest(ctx, turnID, in)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rerr := newRequestError(resp)
		if !rerr.retryable() {
			return backoff.Permanent(rerr)
		}
		return rerr
	}

	dec := stream.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return errStreamEnded
		}
		if err != nil {
			return err
		}
		if !m.Observe(ev.IsTerminal()) {
			c.logger.Debug("Dropping late event", "turn_id", turnID, "type", string(ev.Type))
			continue
		}
		res.Events = append(res.Events, ev)
		if err := c.conv.Apply(ctx, turnID, ev); err != nil {
			c.logger.Warn("Malformed event", "turn_id", turnID, "type", string(ev.Type), "error", err.Error())
		}
		if c.onEvent != nil {
			c.onEvent(ev)
		}
		if ev.IsTerminal() {
			return nil
		}
	}
}

func (c *Client) turnRequest(ctx context.Context, turnID string, in Input) (*http.Request, error) {
	threadID := c.conv.ThreadID()
	if len(in.Audio) == 0 {
		body, err := json.Marshal(map[string]any{
			"message":   in.Text,
			"thread_id": threadID,
			"turn_id":   turnID,
			"speak":     in.Speak,
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	format := in.AudioFormat
	if format == "" {
		format = "webm"
	}
	part, err := w.CreateFormFile("audio", "recording."+format)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(in.Audio); err != nil {
		return nil, err
	}
	for k, v := range map[string]string{"thread_id": threadID, "turn_id": turnID, "format": format, "speak": strconv.FormatBool(in.Speak)} {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/audio", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

// requestError is a non-200 answer to a request.
type requestError struct {
	StatusCode int
	Message    string
}

func newRequestError(resp *http.Response) *requestError {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &requestError{StatusCode: resp.StatusCode, Message: msg}
}

func (e *requestError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// retryable reports whether resending the same turn may succeed.
func (e *requestError) retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusConflict ||
		e.StatusCode == http.StatusTooManyRequests
}

// History fetches the current thread and restores the local view from it.
func (c *Client) History(ctx context.Context, threadID string) ([]core.HistoryEntry, error) {
	var out struct {
		Messages []core.HistoryEntry `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/history/"+threadID, nil, &out); err != nil {
		return nil, err
	}
	c.conv.Restore(threadID, out.Messages)
	return out.Messages, nil
}

// Summary requests the practice summary of the current thread.
func (c *Client) Summary(ctx context.Context) (*summary.Summary, error) {
	var out summary.Summary
	if err := c.doJSON(ctx, http.MethodPost, "/summary", map[string]string{"thread_id": c.conv.ThreadID()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Vocabulary requests vocabulary suggestions for the current thread.
func (c *Client) Vocabulary(ctx context.Context) ([]vocab.Suggestion, error) {
	var out struct {
		Suggestions []vocab.Suggestion `json:"suggestions"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/vocabulary", map[string]string{"thread_id": c.conv.ThreadID()}, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

// Reset deletes the current thread on the server and starts over locally.
func (c *Client) Reset(ctx context.Context) error {
	if id := c.conv.ThreadID(); id != "" {
		if err := c.doJSON(ctx, http.MethodDelete, "/threads/"+id, nil, nil); err != nil {
			return err
		}
	}
	c.conv.Restore("", nil)
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return newRequestError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
