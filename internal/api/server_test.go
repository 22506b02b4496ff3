package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/assessment-composer/internal/composition"
	"github.com/terra-clan/assessment-composer/internal/config"
	"github.com/terra-clan/assessment-composer/internal/models"
	"github.com/terra-clan/assessment-composer/internal/presets"
	"github.com/terra-clan/assessment-composer/internal/services"
	"github.com/terra-clan/assessment-composer/internal/workspaces"
)

const (
	consoleID = "console-1"
	base      = "/api/v1/assessments/a1"
)

type testEnv struct {
	gw  *memGateway
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw := newMemGateway("a1")

	loader := presets.NewLoader()
	loader.Add(&models.SectionPreset{
		Name:       "proctored",
		BreakTime:  models.Duration{Mins: 10},
		Cutoff:     70,
		Proctoring: map[string]bool{models.ProctorFullScreen: true},
	})

	reg := workspaces.NewRegistry(gw, func(workspaces.Key) []composition.Option {
		return []composition.Option{composition.WithPresets(loader)}
	}, nil)
	t.Cleanup(reg.CloseAll)

	svc := services.NewRegistry()
	svc.Register("gateway", services.NewFuncProvider("gateway", func(ctx context.Context) error { return nil }))

	srv := httptest.NewServer(NewServer(config.ServerConfig{}, reg, svc, loader).Router())
	t.Cleanup(srv.Close)
	return &testEnv{gw: gw, srv: srv}
}

type response struct {
	status  int
	header  http.Header
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *apiError              `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, body string) response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(ConsoleSessionHeader, consoleID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	out.status = resp.StatusCode
	out.header = resp.Header
	return out
}

func (r response) code() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}

func (r response) section() map[string]interface{} {
	sec, _ := r.Data["section"].(map[string]interface{})
	return sec
}

func minutes(v interface{}) int {
	d, _ := v.(map[string]interface{})
	h, _ := d["hours"].(float64)
	m, _ := d["mins"].(float64)
	return int(h)*60 + int(m)
}

func TestConsoleSessionHeader(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/api/v1/presets")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(ConsoleSessionHeader))

	got := env.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, consoleID, got.header.Get(ConsoleSessionHeader))
	assert.Equal(t, "Backend Hiring", got.Data["name"])
}

func TestUnknownAssessment(t *testing.T) {
	env := newTestEnv(t)

	got := env.do(t, http.MethodGet, "/api/v1/assessments/missing", "")
	assert.Equal(t, http.StatusNotFound, got.status)
	assert.Equal(t, "not_found", got.code())
	assert.NotEmpty(t, got.Error.Message)
}

func TestComposeFlow(t *testing.T) {
	env := newTestEnv(t)

	got := env.do(t, http.MethodPost, base+"/sections", `{"name":"   ","description":"Pick one"}`)
	assert.Equal(t, http.StatusBadRequest, got.status)
	assert.Equal(t, "validation_error", got.code())
	assert.Empty(t, env.gw.sections)

	got = env.do(t, http.MethodPost, base+"/sections", `{"name":"MCQ","description":"Pick one"}`)
	require.Equal(t, http.StatusCreated, got.status)
	s1 := got.section()["id"].(string)
	assert.Equal(t, "existing", got.section()["state"])

	got = env.do(t, http.MethodPost, base+"/sections", `{"name":"Coding","description":"Solve"}`)
	require.Equal(t, http.StatusCreated, got.status)
	s2 := got.section()["id"].(string)
	assert.Equal(t, 2.0, got.Data["section_count"])

	// catalog and selection
	got = env.do(t, http.MethodPost, base+"/catalog/load", `{"scope":"global"}`)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, 3.0, got.Data["total"])

	got = env.do(t, http.MethodPost, base+"/selection/categories/go", `{"select":true}`)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, 2.0, got.Data["count"])

	got = env.do(t, http.MethodPost, base+"/sections/"+s1+"/questions", "")
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, 45, minutes(got.section()["duration"]))
	assert.Equal(t, 45, minutes(got.Data["total_duration"]))

	got = env.do(t, http.MethodGet, base+"/selection", "")
	assert.Equal(t, 0.0, got.Data["count"])

	// two-step removal
	got = env.do(t, http.MethodPost, base+"/sections/"+s1+"/questions/q2/remove", "")
	require.Equal(t, http.StatusAccepted, got.status)
	intent := got.Data["id"].(string)
	assert.Len(t, env.gw.members[s1], 2)

	got = env.do(t, http.MethodPost, base+"/confirmations/"+intent, "")
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, 5, minutes(got.section()["duration"]))
	assert.Equal(t, map[string]interface{}{"mcq": 1.0}, got.section()["type_counts"])

	got = env.do(t, http.MethodPost, base+"/confirmations/"+intent, "")
	assert.Equal(t, http.StatusNotFound, got.status)
	assert.Equal(t, "confirmation_not_found", got.code())

	// local reorder, then commit
	got = env.do(t, http.MethodPost, base+"/sections/reorder", `{"section_id":"`+s2+`","from":1,"to":0}`)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, s1, env.gw.sections[0].ID)

	got = env.do(t, http.MethodPost, base+"/sections/order", "")
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, s2, env.gw.sections[0].ID)
	assert.Equal(t, 1, env.gw.sections[0].Position)

	got = env.do(t, http.MethodPost, base+"/sections/reorder", `{"section_id":"`+s2+`","from":1,"to":0}`)
	assert.Equal(t, http.StatusBadRequest, got.status)

	// delete with a cancelled first attempt
	got = env.do(t, http.MethodPost, base+"/sections/"+s2+"/delete", "")
	require.Equal(t, http.StatusAccepted, got.status)
	got = env.do(t, http.MethodDelete, base+"/confirmations/"+got.Data["id"].(string), "")
	require.Equal(t, http.StatusOK, got.status)
	assert.Len(t, env.gw.sections, 2)

	got = env.do(t, http.MethodPost, base+"/sections/"+s2+"/delete", "")
	require.Equal(t, http.StatusAccepted, got.status)
	got = env.do(t, http.MethodPost, base+"/confirmations/"+got.Data["id"].(string), "")
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, 1.0, got.Data["section_count"])
	assert.Equal(t, 5, minutes(got.Data["total_duration"]))

	got = env.do(t, http.MethodGet, base, "")
	sections := got.Data["sections"].([]interface{})
	require.Len(t, sections, 1)
	assert.Equal(t, 1.0, sections[0].(map[string]interface{})["position"])
}

func TestEditSection(t *testing.T) {
	env := newTestEnv(t)
	got := env.do(t, http.MethodPost, base+"/sections", `{"name":"MCQ","description":"Pick one"}`)
	sid := got.section()["id"].(string)

	got = env.do(t, http.MethodPut, base+"/sections/"+sid, `{"name":"Quiz","description":""}`)
	assert.Equal(t, http.StatusBadRequest, got.status)

	got = env.do(t, http.MethodPut, base+"/sections/"+sid, `{"name":"Quiz","description":"Updated"}`)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, "Quiz", got.Data["name"])
	assert.Equal(t, 1.0, got.Data["position"])

	got = env.do(t, http.MethodPut, base+"/sections/nope", `{"name":"Quiz","description":"Updated"}`)
	assert.Equal(t, http.StatusNotFound, got.status)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)
	got := env.do(t, http.MethodPost, base+"/sections", `{"name":"MCQ","description":"Pick one"}`)
	sid := got.section()["id"].(string)
	path := base + "/sections/" + sid + "/settings"

	got = env.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, got.status)

	got = env.do(t, http.MethodPatch, path, `{"cutoff":60,"section_break_time.mins":15,"proctoring":{"full_screen":true}}`)
	require.Equal(t, http.StatusOK, got.status)
	settings := got.Data["settings"].(map[string]interface{})
	assert.Equal(t, 60.0, settings["cutoff"])
	assert.Equal(t, 15, minutes(settings["section_break_time"]))

	got = env.do(t, http.MethodPatch, path, `{"section_time":{"hours":2,"mins":0}}`)
	assert.Equal(t, http.StatusBadRequest, got.status)
	assert.Equal(t, "validation_error", got.code())

	got = env.do(t, http.MethodPatch, path, `{"cutoff":140}`)
	assert.Equal(t, http.StatusBadRequest, got.status)

	got = env.do(t, http.MethodPatch, path, `{"cutoff":"NaN"}`)
	assert.Equal(t, http.StatusBadRequest, got.status)
	assert.Equal(t, "validation_error", got.code())

	got = env.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, 60.0, got.Data["settings"].(map[string]interface{})["cutoff"])

	got = env.do(t, http.MethodPost, path+"/save", "")
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, 60.0, env.gw.settings[sid].Cutoff)
	assert.True(t, env.gw.settings[sid].Proctoring[models.ProctorFullScreen])
}

func TestSettings_ConcurrentSaveRejected(t *testing.T) {
	env := newTestEnv(t)
	got := env.do(t, http.MethodPost, base+"/sections", `{"name":"MCQ","description":"Pick one"}`)
	sid := got.section()["id"].(string)
	path := base + "/sections/" + sid + "/settings/save"

	gate := make(chan struct{})
	env.gw.mu.Lock()
	env.gw.saveGate = gate
	env.gw.mu.Unlock()

	done := make(chan response, 1)
	go func() { done <- env.do(t, http.MethodPost, path, "") }()

	require.Eventually(t, func() bool {
		env.gw.mu.Lock()
		defer env.gw.mu.Unlock()
		return env.gw.saveCalls == 1
	}, 2*time.Second, 10*time.Millisecond)

	got = env.do(t, http.MethodPost, path, "")
	assert.Equal(t, http.StatusConflict, got.status)
	assert.Equal(t, "save_in_progress", got.code())

	close(gate)
	first := <-done
	assert.Equal(t, http.StatusOK, first.status)
}

func TestCreateWithPreset(t *testing.T) {
	env := newTestEnv(t)

	got := env.do(t, http.MethodPost, base+"/sections", `{"name":"Coding","description":"Solve","preset":"unknown"}`)
	assert.Equal(t, http.StatusBadRequest, got.status)
	assert.Empty(t, env.gw.sections)

	got = env.do(t, http.MethodPost, base+"/sections", `{"name":"Coding","description":"Solve","preset":"proctored"}`)
	require.Equal(t, http.StatusCreated, got.status)
	sid := got.section()["id"].(string)
	assert.Equal(t, 70.0, env.gw.settings[sid].Cutoff)
	assert.Equal(t, models.Duration{Mins: 10}, env.gw.settings[sid].SectionBreakTime)

	got = env.do(t, http.MethodGet, "/api/v1/presets", "")
	assert.Equal(t, 1.0, got.Data["total"])
}

func TestFilterClearsSelection(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, base+"/catalog/load", "")
	env.do(t, http.MethodPost, base+"/selection/all", "")

	got := env.do(t, http.MethodPut, base+"/filter", `{"category":"go","type":"mcq"}`)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, 0.0, got.Data["count"])

	got = env.do(t, http.MethodGet, base+"/catalog", "")
	assert.Equal(t, 1.0, got.Data["total"])

	got = env.do(t, http.MethodPost, base+"/selection/questions/q3", `{"select":true}`)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, 1.0, got.Data["count"])

	got = env.do(t, http.MethodPost, base+"/selection/questions/zzz", `{"select":true}`)
	assert.Equal(t, http.StatusNotFound, got.status)

	got = env.do(t, http.MethodDelete, base+"/selection", "")
	assert.Equal(t, 0.0, got.Data["count"])
	assert.Empty(t, got.Data["filter"])
}

func TestReady(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, base, "")

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + base + "/events?console=" + consoleID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Type)

	env.do(t, http.MethodPost, base+"/sections", `{"name":"MCQ","description":"Pick one"}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event != nil && msg.Event.Type == composition.EventSectionsChanged {
			break
		}
	}
	assert.Equal(t, "a1", msg.Event.AssessmentID)
	assert.Len(t, msg.Event.Order, 1)
}
