// Package lighthouse runs performance audits with the Lighthouse CLI.
package lighthouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shyim/perfaudit/internal/catalog"
)

const (
	DefaultTimeout         = 60 * time.Second
	DefaultExtendedTimeout = 300 * time.Second
)

var tracer = otel.Tracer("github.com/shyim/perfaudit/internal/lighthouse")

type Options struct {
	Binary          string
	ChromePath      string
	ChromeFlags     []string
	Timeout         time.Duration
	ExtendedTimeout time.Duration
}

// Request describes a single audit.
type Request struct {
	URL             string
	Device          catalog.Device
	ExtendedTimeout bool
	Headers         map[string]string
}

// Runner builds Lighthouse invocations and hands them to an Engine.
type Runner struct {
	engine Engine
	opts   Options
	logger zerolog.Logger
}

func NewRunner(engine Engine, opts Options, logger zerolog.Logger) *Runner {
	if opts.Binary == "" {
		opts.Binary = "lighthouse"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ExtendedTimeout <= 0 {
		opts.ExtendedTimeout = DefaultExtendedTimeout
	}
	if len(opts.ChromeFlags) == 0 {
		opts.ChromeFlags = []string{"--headless", "--no-sandbox", "--disable-gpu", "--disable-dev-shm-usage"}
	}
	return &Runner{
		engine: engine,
		opts:   opts,
		logger: logger.With().Str("component", "lighthouse").Logger(),
	}
}

// Command returns the argument vector for req.
func (r *Runner) Command(req Request) ([]string, error) {
	args := []string{
		r.opts.Binary,
		req.URL,
		"--output=json",
		"--output-path=stdout",
		"--quiet",
		"--only-categories=performance",
		"--only-audits=" + strings.Join(catalog.AuditIDs(), ","),
		"--chrome-flags=" + strings.Join(r.opts.ChromeFlags, " "),
	}

	switch req.Device {
	case catalog.Mobile:
		args = append(args, "--form-factor=mobile")
	case catalog.Desktop:
		args = append(args, "--preset=desktop")
	default:
		return nil, fmt.Errorf("lighthouse: unsupported device %s", req.Device)
	}

	if len(req.Headers) > 0 {
		headers, err := json.Marshal(req.Headers)
		if err != nil {
			return nil, fmt.Errorf("lighthouse: encode headers: %w", err)
		}
		args = append(args, "--extra-headers="+string(headers))
	}

	return args, nil
}

func (r *Runner) timeout(req Request) time.Duration {
	if req.ExtendedTimeout {
		return r.opts.ExtendedTimeout
	}
	return r.opts.Timeout
}

// Audit runs one audit and returns the JSON report. Failures are returned
// as *AuditError.
func (r *Runner) Audit(ctx context.Context, req Request) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "lighthouse.audit")
	defer span.End()
	span.SetAttributes(
		attribute.String("audit.url", req.URL),
		attribute.String("audit.device", req.Device.String()),
	)

	args, err := r.Command(req)
	if err != nil {
		return nil, err
	}

	var env map[string]string
	if r.opts.ChromePath != "" {
		env = map[string]string{"CHROME_PATH": r.opts.ChromePath}
	}

	timeout := r.timeout(req)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := r.engine.Exec(runCtx, args, env)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		auditErr := &AuditError{Kind: KindTimedOut, URL: req.URL, Output: fmt.Sprintf("exceeded timeout of %s", timeout)}
		span.SetStatus(codes.Error, auditErr.Error())
		return nil, auditErr
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	r.logger.Debug().
		Str("url", req.URL).
		Str("device", req.Device.String()).
		Int("exit_code", res.ExitCode).
		Dur("took", time.Since(start)).
		Msg("lighthouse finished")

	if res.ExitCode != 0 {
		kind := Classify(res.Stderr)
		if kind == KindFailed && res.Signaled {
			kind = KindSignaled
		}
		auditErr := &AuditError{Kind: kind, URL: req.URL, Output: strings.TrimSpace(res.Stderr)}
		span.SetStatus(codes.Error, kind.String())
		return nil, auditErr
	}

	return res.Stdout, nil
}
