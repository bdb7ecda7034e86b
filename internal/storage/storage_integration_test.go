//go:build integration

package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shyim/perfaudit/internal/aggregate"
	"github.com/shyim/perfaudit/internal/catalog"
	"github.com/shyim/perfaudit/internal/migration"
	"github.com/shyim/perfaudit/internal/storage"
	"github.com/shyim/perfaudit/internal/urls"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "perfaudit",
			"POSTGRES_PASSWORD": "perfaudit",
			"POSTGRES_DB":       "perfaudit",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://perfaudit:perfaudit@%s:%s/perfaudit?sslmode=disable", host, port.Port())

	if err := migration.RunMigrations(dsn, zerolog.Nop()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	testDB, err = storage.New(ctx, dsn, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func insertAction(t *testing.T, name string, prefix int16) int64 {
	t.Helper()
	var id int64
	err := testDB.Pool().QueryRow(context.Background(),
		`INSERT INTO actions (name, type, url_prefix) VALUES ($1, $2, $3) RETURNING id`,
		name, storage.ActionTypePageURL, prefix).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestPageURLsAndLookup(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	home := insertAction(t, "shop.test/", 3)
	cart := insertAction(t, "shop.test/cart?id=1", 2)
	old := insertAction(t, "shop.test/old", 2)

	for _, v := range []struct {
		action int64
		at     time.Time
	}{
		{cart, now.Add(-2 * time.Hour)},
		{home, now.Add(-48 * time.Hour)},
		{home, now.Add(-time.Hour)},
		{old, now.AddDate(0, 0, -40)},
	} {
		_, err := testDB.Pool().Exec(ctx,
			`INSERT INTO page_views (site_id, action_id, visited_at) VALUES (100, $1, $2)`, v.action, v.at)
		require.NoError(t, err)
	}

	got, err := testDB.PageURLs(ctx, 100, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.shop.test/", "https://shop.test/cart?id=1"}, got)

	lookup, err := testDB.ResolveActionIDs(ctx, []string{
		urls.Hash("https://www.shop.test/", urls.DefaultSubdomain),
		urls.Hash("https://unknown.test/", urls.DefaultSubdomain),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{urls.Hash("https://shop.test/", urls.DefaultSubdomain): home}, lookup)
}

func TestInsertAndPeriodStatistics(t *testing.T) {
	ctx := context.Background()
	action := insertAction(t, "stats.test/", 2)

	var rows []aggregate.Row
	for i, median := range []int64{300, 100, 200} {
		rows = append(rows, aggregate.Row{
			SiteID:   200,
			Device:   catalog.Desktop,
			ActionID: action,
			Key:      catalog.SpeedIndex.DisplayKey(),
			Min:      median - 10,
			Median:   median,
			Max:      median + 10,
			Day:      time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
		})
	}

	n, err := testDB.InsertPerformance(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	stats, err := testDB.PeriodStatistics(ctx, storage.PeriodQuery{
		SiteID: 200,
		Device: catalog.Desktop,
		Metric: catalog.SpeedIndex,
		From:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []storage.PeriodStat{
		{ActionID: action, URL: "https://stats.test/", Min: 190, Median: 200, Max: 210},
	}, stats)
}
