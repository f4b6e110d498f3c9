package camera

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openchdk/gochdk/pkg/camera"
	"github.com/openchdk/gochdk/pkg/fakecam"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestShootJobLifecycle(t *testing.T) {
	log = zerolog.Nop()

	dev, err := camera.Connect(fakecam.New())
	require.NoError(t, err)
	cameras["jobcam"] = &Cam{name: "jobcam", source: "fake", dev: dev}

	r := httptest.NewRequest("POST", "/api/camera/shoot?src=jobcam&wait=false", nil)
	w := httptest.NewRecorder()
	shootHandler(w, r)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id := resp["job"]
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		jobsMu.Lock()
		defer jobsMu.Unlock()
		return jobs[id].Finished != nil
	}, time.Second, 5*time.Millisecond)

	jobsMu.Lock()
	job := jobs[id]
	jobsMu.Unlock()
	require.Equal(t, "done", job.State)
	require.Empty(t, job.Error)
	require.Equal(t, "jobcam", job.Camera)

	// the camera lock is free again once the job finished
	require.True(t, cameras["jobcam"].mu.TryLock())
	cameras["jobcam"].mu.Unlock()
}

func TestJobsExpire(t *testing.T) {
	stale := time.Now().Add(-2 * jobKeep)
	jobsMu.Lock()
	jobs["stale"] = &jobInfo{Camera: "x", State: "done", Finished: &stale}
	jobsMu.Unlock()

	id := newJob("y")
	finishJob(id, errors.New("sensor busy"))

	jobsMu.Lock()
	defer jobsMu.Unlock()
	require.NotContains(t, jobs, "stale")
	require.Equal(t, "error", jobs[id].State)
	require.Equal(t, "sensor busy", jobs[id].Error)
	require.NotNil(t, jobs[id].Finished)
}
