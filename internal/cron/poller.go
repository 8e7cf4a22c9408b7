package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/auth"
	"github.com/spec-kit/servicedesk/internal/config"
)

// Reassigned mirrors one entry of the timeout-check response.
type Reassigned struct {
	ID                string `json:"id"`
	Reference         string `json:"reference"`
	PreviousPartnerID string `json:"previous_partner_id"`
}

// Result is the decoded timeout-check response.
type Result struct {
	CheckedAt  time.Time    `json:"checked_at"`
	Skipped    bool         `json:"skipped"`
	Reassigned []Reassigned `json:"reassigned"`
}

// Poller calls the assignment timeout endpoint on a schedule.
type Poller struct {
	client   *http.Client
	url      string
	secret   string
	schedule robfig.Schedule
	spec     string
	logger   *zap.Logger
}

var parser = robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)

// NewPoller validates the schedule and builds a poller.
func NewPoller(cfg config.CronConfig, secret string, logger *zap.Logger) (*Poller, error) {
	if cfg.TargetURL == "" {
		return nil, fmt.Errorf("cron target url is required")
	}
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Poller{
		client:   &http.Client{Timeout: timeout},
		url:      cfg.TargetURL,
		secret:   secret,
		schedule: schedule,
		spec:     cfg.Schedule,
		logger:   logger,
	}, nil
}

// Poll performs a single timeout check.
func (p *Poller) Poll(ctx context.Context) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(auth.CronSecretHeader, p.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call timeout check: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("timeout check returned %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var envelope struct {
		Data Result `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &envelope.Data, nil
}

// Run schedules polls until ctx is cancelled. A poll still in flight when the
// next tick fires causes that tick to be skipped.
func (p *Poller) Run(ctx context.Context) error {
	logAdapter := zapCronLogger{p.logger}
	c := robfig.New(
		robfig.WithParser(parser),
		robfig.WithLogger(logAdapter),
		robfig.WithChain(robfig.Recover(logAdapter), robfig.SkipIfStillRunning(logAdapter)),
	)
	c.Schedule(p.schedule, robfig.FuncJob(func() { p.tick(ctx) }))

	p.logger.Info("cron poller started", zap.String("schedule", p.spec), zap.String("target", p.url))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	p.client.CloseIdleConnections()
	p.logger.Info("cron poller stopped")
	return nil
}

func (p *Poller) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	result, err := p.Poll(ctx)
	if err != nil {
		p.logger.Error("timeout check failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return
	}
	if result.Skipped {
		p.logger.Info("timeout check skipped; another run holds the lock")
		return
	}
	p.logger.Info("timeout check finished",
		zap.Int("reassigned", len(result.Reassigned)),
		zap.Duration("elapsed", time.Since(started)))
}

// Close releases idle HTTP connections.
func (p *Poller) Close() {
	p.client.CloseIdleConnections()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
