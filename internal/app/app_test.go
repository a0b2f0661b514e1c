package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-cert/internal/certificate"
	"github.com/mind-engage/mindengage-cert/internal/config"
	"github.com/mind-engage/mindengage-cert/internal/db/dbtest"
	"github.com/mind-engage/mindengage-cert/internal/storage"
)

type nopRenderer struct{}

func (nopRenderer) Render(context.Context, certificate.RenderInput) ([]byte, error) {
	return []byte("%PDF"), nil
}

func testApp(t *testing.T, schedule string) *App {
	t.Helper()
	bs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	cfg := config.Config{
		WindowDays:      3,
		IdentitySecret:  "s",
		RebuildSchedule: schedule,
		Certifications:  []config.Certification{{ID: "manager", Title: "Manager", Modules: []string{"leadership"}}},
	}
	return Assemble(cfg, dbtest.Open(t), Backends{Blobs: bs, Renderer: nopRenderer{}}, NewLogger(&bytes.Buffer{}, "error"))
}

func TestAssembleServesHealth(t *testing.T) {
	a := testApp(t, "")
	mods, ok := a.Orders.Modules("manager")
	require.True(t, ok)
	assert.Equal(t, []string{"leadership"}, mods)

	rec := httptest.NewRecorder()
	a.Router(false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, a.Close())
}

func TestRebuildJob(t *testing.T) {
	stop, err := testApp(t, "").StartRebuildJob(context.Background())
	require.NoError(t, err)
	stop()

	stop, err = testApp(t, "@every 1h").StartRebuildJob(context.Background())
	require.NoError(t, err)
	stop()

	_, err = testApp(t, "not a schedule").StartRebuildJob(context.Background())
	assert.Error(t, err)
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn")
	log.Info("hidden")
	log.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	NewLogger(&buf, "bogus").Info("fallback")
	assert.Contains(t, buf.String(), "fallback")
}

func TestLockTTLOutlivesRender(t *testing.T) {
	cfg := config.Config{RenderTimeout: 20 * time.Second}
	assert.Equal(t, 94*time.Second, LockTTL(cfg))

	cfg.LockTTL = time.Minute
	assert.Equal(t, 94*time.Second, LockTTL(cfg), "short TTL is raised")

	cfg.LockTTL = 5 * time.Minute
	assert.Equal(t, 5*time.Minute, LockTTL(cfg))
}
