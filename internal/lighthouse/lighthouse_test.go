package lighthouse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyim/perfaudit/internal/catalog"
)

type fakeEngine struct {
	cmd    []string
	env    map[string]string
	result *ExecResult
	err    error
	block  bool
}

func (f *fakeEngine) Exec(ctx context.Context, cmd []string, env map[string]string) (*ExecResult, error) {
	f.cmd, f.env = cmd, env
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"Runtime error: Status code: 403":            KindAuthorizationRefused,
		"STATUS CODE: 404 for the page":              KindNotFound,
		"status code: 405":                           KindMethodNotAllowed,
		"Status code: 429 Too Many Requests":         KindTooManyRequests,
		"Status code: 404 then Status code: 403":     KindAuthorizationRefused,
		"Chrome could not be launched":               KindFailed,
		"Status code: 500":                           KindFailed,
		"":                                           KindFailed,
	}
	for output, want := range cases {
		assert.Equal(t, want, Classify(output), output)
	}
}

func TestAuditErrorTransient(t *testing.T) {
	for kind, transient := range map[Kind]bool{
		KindFailed:               false,
		KindAuthorizationRefused: true,
		KindNotFound:             true,
		KindMethodNotAllowed:     true,
		KindTooManyRequests:      true,
		KindTimedOut:             false,
		KindSignaled:             false,
	} {
		err := &AuditError{Kind: kind, URL: "https://example.com"}
		assert.Equal(t, transient, err.Transient(), kind.String())
		assert.Contains(t, err.Error(), "Audit of https://example.com")
	}
}

func TestAuditErrorUnwrapsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("run 2: %w", &AuditError{Kind: KindNotFound})
	var auditErr *AuditError
	require.True(t, errors.As(err, &auditErr))
	assert.Equal(t, KindNotFound, auditErr.Kind)
}

func TestCommand(t *testing.T) {
	r := NewRunner(&fakeEngine{}, Options{Binary: "/usr/bin/lighthouse"}, zerolog.Nop())

	args, err := r.Command(Request{URL: "https://example.com/", Device: catalog.Mobile})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/lighthouse", args[0])
	assert.Equal(t, "https://example.com/", args[1])
	assert.Contains(t, args, "--output=json")
	assert.Contains(t, args, "--only-categories=performance")
	assert.Contains(t, args, "--only-audits=first-contentful-paint,speed-index,largest-contentful-paint,interactive,total-blocking-time,cumulative-layout-shift,metrics")
	assert.Contains(t, args, "--form-factor=mobile")

	args, err = r.Command(Request{
		URL:     "https://example.com/",
		Device:  catalog.Desktop,
		Headers: map[string]string{"Cookie": "session=1"},
	})
	require.NoError(t, err)
	assert.Contains(t, args, "--preset=desktop")
	assert.Contains(t, args, `--extra-headers={"Cookie":"session=1"}`)

	_, err = r.Command(Request{URL: "https://example.com/", Device: catalog.Device(9)})
	assert.Error(t, err)
}

func TestAuditSuccess(t *testing.T) {
	engine := &fakeEngine{result: &ExecResult{Stdout: []byte(`{"ok":true}`)}}
	r := NewRunner(engine, Options{ChromePath: "/opt/chrome"}, zerolog.Nop())

	out, err := r.Audit(context.Background(), Request{URL: "https://example.com", Device: catalog.Mobile})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
	assert.Equal(t, map[string]string{"CHROME_PATH": "/opt/chrome"}, engine.env)
}

func TestAuditClassifiesFailures(t *testing.T) {
	engine := &fakeEngine{result: &ExecResult{ExitCode: 1, Stderr: "LH:ERROR Status code: 403\n"}}
	r := NewRunner(engine, Options{}, zerolog.Nop())

	_, err := r.Audit(context.Background(), Request{URL: "https://example.com", Device: catalog.Mobile})
	var auditErr *AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, KindAuthorizationRefused, auditErr.Kind)
	assert.Equal(t, "LH:ERROR Status code: 403", auditErr.Output)

	engine.result = &ExecResult{ExitCode: -1, Signaled: true}
	_, err = r.Audit(context.Background(), Request{URL: "https://example.com", Device: catalog.Mobile})
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, KindSignaled, auditErr.Kind)
}

func TestAuditTimeout(t *testing.T) {
	r := NewRunner(&fakeEngine{block: true}, Options{Timeout: 20 * time.Millisecond, ExtendedTimeout: time.Hour}, zerolog.Nop())

	_, err := r.Audit(context.Background(), Request{URL: "https://example.com", Device: catalog.Desktop})
	var auditErr *AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, KindTimedOut, auditErr.Kind)
	assert.False(t, auditErr.Transient())
}

func TestAuditParentCancelled(t *testing.T) {
	r := NewRunner(&fakeEngine{block: true}, Options{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Audit(ctx, Request{URL: "https://example.com", Device: catalog.Desktop})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecEngine(t *testing.T) {
	res, err := ExecEngine{}.Exec(context.Background(), []string{"sh", "-c", `echo "$GREETING"; echo oops >&2; exit 3`}, map[string]string{"GREETING": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(res.Stdout))
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Signaled)

	res, err = ExecEngine{}.Exec(context.Background(), []string{"sh", "-c", "kill -9 $$"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Signaled)

	_, err = ExecEngine{}.Exec(context.Background(), []string{"/nonexistent/lighthouse"}, nil)
	assert.Error(t, err)
}
