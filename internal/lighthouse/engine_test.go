package lighthouse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyim/perfaudit/internal/catalog"
)

// fakeDaemon answers the exec endpoints of the Docker API. When hang is set
// the attached stream stays open and silent until the test ends.
func fakeDaemon(t *testing.T, hang bool) *DockerEngine {
	t.Helper()

	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1.47/containers/{name}/exec", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lighthouse", r.PathValue("name"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"Id": "e1"})
	})
	mux.HandleFunc("POST /v1.47/exec/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("HTTP/1.1 101 UPGRADED\r\n" +
			"Content-Type: application/vnd.docker.multiplexed-stream\r\n" +
			"Connection: Upgrade\r\nUpgrade: tcp\r\n\r\n"))
		if hang {
			<-release
			return
		}
		_, _ = stdcopy.NewStdWriter(conn, stdcopy.Stdout).Write([]byte(`{"ok":true}`))
		_, _ = stdcopy.NewStdWriter(conn, stdcopy.Stderr).Write([]byte("LH:ERROR Status code: 429\n"))
	})
	mux.HandleFunc("GET /v1.47/exec/{id}/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ID": r.PathValue("id"), "Running": false, "ExitCode": 3})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cli, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+strings.TrimPrefix(srv.URL, "http://")),
		client.WithVersion("1.47"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return &DockerEngine{client: cli, container: "lighthouse"}
}

func TestDockerEngineExec(t *testing.T) {
	engine := fakeDaemon(t, false)

	res, err := engine.Exec(context.Background(), []string{"lighthouse", "https://example.com"}, map[string]string{"CHROME_PATH": "/opt/chrome"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(res.Stdout))
	assert.Equal(t, "LH:ERROR Status code: 429\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Signaled)
}

func TestDockerEngineExecHonoursDeadline(t *testing.T) {
	engine := fakeDaemon(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := engine.Exec(ctx, []string{"lighthouse"}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAuditTimesOutOnSilentContainer(t *testing.T) {
	r := NewRunner(fakeDaemon(t, true), Options{Timeout: 300 * time.Millisecond, ExtendedTimeout: time.Hour}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := r.Audit(context.Background(), Request{URL: "https://example.com", Device: catalog.Mobile})
		done <- err
	}()

	select {
	case err := <-done:
		var auditErr *AuditError
		require.ErrorAs(t, err, &auditErr)
		assert.Equal(t, KindTimedOut, auditErr.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("audit did not return after its timeout")
	}
}
