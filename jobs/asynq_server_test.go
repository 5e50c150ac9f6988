package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

type principal struct {
	id   int64
	role rbac.Role
}

func (p principal) GetID() int64                     { return p.id }
func (p principal) GetRole() rbac.Role               { return p.role }
func (p principal) Capabilities() rbac.CapabilitySet { return nil }

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

type fakeEnqueuer struct {
	calls int
	err   error
}

func (f *fakeEnqueuer) EnqueueBanSweep(ctx context.Context, payload BanSweepPayload) (*asynq.TaskInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func jobsRouter(h *Handler, role rbac.Role) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if role != "" {
				req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), principal{id: 9, role: role}))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/jobs", h.MountRoutes)
	return r
}

func TestHealthReportsQueue(t *testing.T) {
	h := NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, nil, rbac.Middleware{}, nil)
	rr := httptest.NewRecorder()
	jobsRouter(h, rbac.RoleAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":4,"active":0,"scheduled":0,"retry":1,"archived":0,"paused":false}`, rr.Body.String())
}

func TestHealthQueueErrors(t *testing.T) {
	h := NewHandler(fakeInspector{err: fmt.Errorf("inspect: %w", asynq.ErrQueueNotFound)}, nil, rbac.Middleware{}, nil)
	rr := httptest.NewRecorder()
	jobsRouter(h, rbac.RoleOwner).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	h = NewHandler(fakeInspector{err: errors.New("redis down")}, nil, rbac.Middleware{}, nil)
	rr = httptest.NewRecorder()
	jobsRouter(h, rbac.RoleOwner).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestBanSweepEndpoint(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewHandler(nil, enq, rbac.Middleware{}, nil)

	rr := httptest.NewRecorder()
	jobsRouter(h, rbac.RoleModerator).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/ban-sweep", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Zero(t, enq.calls)

	rr = httptest.NewRecorder()
	jobsRouter(h, "").ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/ban-sweep", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	jobsRouter(h, rbac.RoleAdmin).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/ban-sweep", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), `"taskId":"task-1"`)
	assert.Equal(t, 1, enq.calls)
}

func TestBanSweepEndpointDuplicate(t *testing.T) {
	enq := &fakeEnqueuer{err: fmt.Errorf("%w: ban sweep already queued", shared.ErrConflict)}
	h := NewHandler(nil, enq, rbac.Middleware{}, nil)
	rr := httptest.NewRecorder()
	jobsRouter(h, rbac.RoleOwner).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/ban-sweep", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)

	h = NewHandler(nil, nil, rbac.Middleware{}, nil)
	rr = httptest.NewRecorder()
	jobsRouter(h, rbac.RoleOwner).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/ban-sweep", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestNewBanSweepTask(t *testing.T) {
	task, err := NewBanSweepTask(BanSweepPayload{})
	require.NoError(t, err)
	assert.Equal(t, TaskExpireBans, task.Type())
	assert.JSONEq(t, `{}`, string(task.Payload()))
}
