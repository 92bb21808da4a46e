package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haolipeng/audisp_filter/pkg/classifier"
	"github.com/haolipeng/audisp_filter/pkg/config"
	"github.com/haolipeng/audisp_filter/pkg/matcher"
	"github.com/haolipeng/audisp_filter/pkg/metrics"
	"github.com/haolipeng/audisp_filter/pkg/rules"
	"github.com/haolipeng/audisp_filter/pkg/service"
	"github.com/haolipeng/audisp_filter/pkg/supervisor"
)

func newTestFilterService(t *testing.T) *FilterService {
	t.Helper()

	engine, err := matcher.NewCELEngine()
	require.NoError(t, err)

	svc := service.New(service.Options{
		Config:     &config.FilterConfig{Mode: classifier.ModeBlocklist, ConfigFile: "/etc/audit/filter.conf"},
		Loader:     rules.NewLoader(engine, 0),
		Classifier: classifier.New(engine, classifier.ModeBlocklist),
		Supervisor: supervisor.New("/bin/true", nil),
		Metrics:    &metrics.FilterMetrics{},
	})

	set := rules.NewRuleSet()
	set.Append(rules.Rule{Expression: "arch=b64", Line: 1})
	set.Append(rules.Rule{Expression: "uid=0", Line: 4})
	svc.InstallRules(set)

	fs, err := NewFilterService(svc)
	require.NoError(t, err)
	return fs
}

func doRequest(t *testing.T, method, target, body string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler(c))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestGetStatus(t *testing.T) {
	fs := newTestFilterService(t)

	rec, resp := doRequest(t, http.MethodGet, "/filter/status", "", fs.GetStatus)

	assert.Equal(t, http.StatusOK, rec.Code)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "blocklist", data["mode"])
	assert.Equal(t, "/etc/audit/filter.conf", data["config_file"])
	assert.Equal(t, float64(2), data["rule_count"])
	assert.Contains(t, data, "metrics")
}

func TestGetRules(t *testing.T) {
	fs := newTestFilterService(t)

	rec, resp := doRequest(t, http.MethodGet, "/filter/rules", "", fs.GetRules)

	assert.Equal(t, http.StatusOK, rec.Code)
	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 2)

	first, ok := list[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "arch=b64", first["expression"])
	assert.Equal(t, float64(1), first["line"])
}

func TestValidateRule(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		wantCode int
	}{
		{
			name:     "valid expression",
			body:     `{"expression": "arch=b64 && uid!=0"}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "invalid expression",
			body:     `{"expression": "arch="}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty expression",
			body:     `{"expression": ""}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed body",
			body:     `{"expression": `,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newTestFilterService(t)

			rec, resp := doRequest(t, http.MethodPost, "/filter/rules/validate", tc.body, fs.ValidateRule)

			assert.Equal(t, tc.wantCode, rec.Code)
			assert.Equal(t, tc.wantCode, resp.Code)
		})
	}
}

func TestValidateRuleDoesNotTouchActiveRules(t *testing.T) {
	fs := newTestFilterService(t)

	_, _ = doRequest(t, http.MethodPost, "/filter/rules/validate",
		`{"expression": "comm=bash"}`, fs.ValidateRule)

	assert.Equal(t, 2, fs.svc.ActiveRules().Len())
}

func TestReload(t *testing.T) {
	fs := newTestFilterService(t)

	rec, resp := doRequest(t, http.MethodPost, "/filter/reload", "", fs.Reload)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, http.StatusAccepted, resp.Code)
}
