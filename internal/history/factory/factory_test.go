package factory

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskctl/internal/history"
	"github.com/loykin/taskctl/internal/store"
)

func TestFactoryDSNTypes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "h.db")
	tests := []struct {
		name        string
		dsn         string
		expectError bool
	}{
		{"Empty DSN", "", true},
		{"Invalid scheme", "invalid://test", true},
		{"SQLite file DSN", "sqlite://" + dbPath, false},
		{"SQLite bare path", dbPath, false},
		{"SQLite memory DSN", "sqlite://:memory:", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, isReader := sink.(history.Reader)
			assert.True(t, isReader)
			if c, ok := sink.(io.Closer); ok {
				_ = c.Close()
			}
		})
	}
}

func TestFactorySQLiteRoundTrip(t *testing.T) {
	sink, err := NewSinkFromDSN("sqlite://" + filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer func() { _ = sink.(io.Closer).Close() }()

	ctx := context.Background()
	rec := store.Record{Name: "x", Command: "true", PID: 7, StartedAt: time.Now(), Status: store.StatusRunning}
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventLaunched, OccurredAt: time.Now(), Record: rec}))

	evs, err := sink.(history.Reader).Recent(ctx, "x", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, history.EventLaunched, evs[0].Type)
}

func TestClickHouseOptions(t *testing.T) {
	opts, err := clickHouseOptions("clickhouse://bob:secret@ch:9000/analytics?table=events")
	require.NoError(t, err)
	assert.Equal(t, "ch:9000", opts.Addr)
	assert.Equal(t, "analytics", opts.Database)
	assert.Equal(t, "events", opts.Table)
	assert.Equal(t, "bob", opts.Username)
	assert.Equal(t, "secret", opts.Password)

	opts, err = clickHouseOptions("clickhouse://?database=d")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", opts.Addr)
	assert.Equal(t, "d", opts.Database)
	assert.Empty(t, opts.Table)
}

func TestOpenSearchOptions(t *testing.T) {
	opts, err := openSearchOptions("opensearch://admin:pw@search:9200/tasks")
	require.NoError(t, err)
	assert.Equal(t, "http://search:9200", opts.BaseURL)
	assert.Equal(t, "tasks", opts.Index)
	assert.Equal(t, "admin", opts.Username)
	assert.Equal(t, "pw", opts.Password)

	opts, err = openSearchOptions("opensearch+https://search.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://search.example.com", opts.BaseURL)
	assert.Empty(t, opts.Index)

	_, err = openSearchOptions("opensearch:///idx")
	require.Error(t, err)
}

func TestFactoryOpenSearchIsWriteOnly(t *testing.T) {
	sink, err := NewSinkFromDSN("opensearch://localhost:9200/tasks")
	require.NoError(t, err)
	_, isReader := sink.(history.Reader)
	assert.False(t, isReader)
}
