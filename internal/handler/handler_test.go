package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"redpacket/internal/config"
	"redpacket/internal/infrastructure/cache"
	"redpacket/internal/job"
	"redpacket/internal/service"
	"redpacket/internal/testutil"
	"redpacket/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db := testutil.NewTestDB(t)
	_, client := testutil.NewTestRedis(t)
	cfg := config.Default()
	pool := cache.NewPacketPool(client)

	accounts := service.NewAccountService(db)
	settlement := service.NewSettlementService(db, accounts, cfg)
	h := NewHandler(
		service.NewActivityService(db, pool, cfg),
		service.NewGrabService(db, pool, nil, cfg),
		accounts,
		job.NewSettlementJob(settlement, client, cfg),
	)
	return SetupRouter(h, gin.TestMode)
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, userID int64, body interface{}) apiResponse {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set(headerUserID, fmt.Sprint(userID))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(headerRequestID))

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func createActivity(t *testing.T, r *gin.Engine, count int, startImmediately bool) int64 {
	t.Helper()
	now := time.Now().UTC()
	resp := doRequest(t, r, http.MethodPost, "/api/v1/admin/red-packet/activities", 0, gin.H{
		"name":              "接口红包",
		"total_amount":      count * 100,
		"total_count":       count,
		"algorithm":         "EVENLY",
		"start_time":        now.Add(time.Hour).Format(time.RFC3339),
		"end_time":          now.Add(2 * time.Hour).Format(time.RFC3339),
		"start_immediately": startImmediately,
	})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	var activity struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &activity))
	return activity.ID
}

func TestGrabFlow(t *testing.T) {
	r := setupRouter(t)
	id := createActivity(t, r, 1, true)

	resp := doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 1, gin.H{"activity_id": id})
	require.Equal(t, response.CodeSuccess, resp.Code)
	var res service.GrabResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.Equal(t, int64(100), res.Amount)
	require.Equal(t, "1.00", res.AmountYuan)

	resp = doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 1, gin.H{"activity_id": id})
	require.Equal(t, response.CodeAlreadyGrabbed, resp.Code)
	require.Equal(t, "您已经抢过这个红包了", resp.Message)

	resp = doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 2, gin.H{"activity_id": id})
	require.Equal(t, response.CodeNoPacketLeft, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.Zero(t, res.RemainingCount)

	resp = doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 2, gin.H{"activity_id": 9999})
	require.Equal(t, response.CodeActivityNotFound, resp.Code)

	resp = doRequest(t, r, http.MethodPost, "/api/v1/admin/red-packet/settlement/run", 0, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var summary job.SettlementSummary
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	require.Equal(t, 1, summary.Settle.Applied)

	resp = doRequest(t, r, http.MethodGet, "/api/v1/red-packet/balance", 1, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var balance struct {
		Balance     int64  `json:"balance"`
		BalanceYuan string `json:"balance_yuan"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &balance))
	require.Equal(t, int64(100), balance.Balance)
	require.Equal(t, "1.00", balance.BalanceYuan)

	resp = doRequest(t, r, http.MethodGet, "/api/v1/red-packet/records", 1, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Equal(t, int64(1), page.Total)
}

func TestAdminTransitions(t *testing.T) {
	r := setupRouter(t)
	id := createActivity(t, r, 2, false)
	base := fmt.Sprintf("/api/v1/admin/red-packet/activities/%d", id)

	resp := doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 1, gin.H{"activity_id": id})
	require.Equal(t, response.CodeActivityNotStarted, resp.Code)

	resp = doRequest(t, r, http.MethodPost, base+"/end", 0, nil)
	require.Equal(t, response.CodeConflict, resp.Code)

	resp = doRequest(t, r, http.MethodPost, base+"/start", 0, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = doRequest(t, r, http.MethodGet, base, 0, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var detail struct {
		Status    string `json:"status"`
		PoolReady bool   `json:"pool_ready"`
		PoolSize  int64  `json:"pool_size"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	require.Equal(t, "ACTIVE", detail.Status)
	require.True(t, detail.PoolReady)
	require.Equal(t, int64(2), detail.PoolSize)

	resp = doRequest(t, r, http.MethodPost, base+"/evict", 0, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 1, gin.H{"activity_id": id})
	require.Equal(t, response.CodeSystemBusy, resp.Code)

	resp = doRequest(t, r, http.MethodPost, base+"/preload", 0, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 1, gin.H{"activity_id": id})
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = doRequest(t, r, http.MethodGet, base+"/stats", 0, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = doRequest(t, r, http.MethodGet, base+"/packets?status=CLAIMED", 0, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = doRequest(t, r, http.MethodPost, base+"/cancel", 0, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 2, gin.H{"activity_id": id})
	require.Equal(t, response.CodeActivityCancelled, resp.Code)

	resp = doRequest(t, r, http.MethodGet, "/api/v1/admin/red-packet/activities?status=CANCELLED", 0, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Equal(t, int64(1), page.Total)
}

func TestErrorMapping(t *testing.T) {
	r := setupRouter(t)

	resp := doRequest(t, r, http.MethodPost, "/api/v1/admin/red-packet/activities", 0, gin.H{
		"name":         "",
		"total_amount": 100,
		"total_count":  1,
	})
	require.Equal(t, response.CodeParamError, resp.Code)

	resp = doRequest(t, r, http.MethodGet, "/api/v1/admin/red-packet/activities/9999", 0, nil)
	require.Equal(t, response.CodeNotFound, resp.Code)

	resp = doRequest(t, r, http.MethodGet, "/api/v1/admin/red-packet/activities/abc", 0, nil)
	require.Equal(t, response.CodeParamError, resp.Code)

	// 缺少用户身份
	resp = doRequest(t, r, http.MethodGet, "/api/v1/red-packet/activities", 0, nil)
	require.Equal(t, response.CodeUnauthorized, resp.Code)

	resp = doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 1, gin.H{})
	require.Equal(t, response.CodeParamError, resp.Code)
}

func TestUserViews(t *testing.T) {
	r := setupRouter(t)
	id := createActivity(t, r, 3, true)

	doRequest(t, r, http.MethodPost, "/api/v1/red-packet/grab", 1, gin.H{"activity_id": id})

	resp := doRequest(t, r, http.MethodGet, fmt.Sprintf("/api/v1/red-packet/activities/%d", id), 1, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var view service.ActivityView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	require.True(t, view.HasGrabbed)
	require.False(t, view.CanGrab)
	require.NotNil(t, view.MyRecord)

	resp = doRequest(t, r, http.MethodGet, "/api/v1/red-packet/activities", 2, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var page struct {
		List  []service.ActivityView `json:"list"`
		Total int64                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Equal(t, int64(1), page.Total)
	require.True(t, page.List[0].CanGrab)

	resp = doRequest(t, r, http.MethodGet, "/api/v1/red-packet/stats", 1, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := setupRouter(t)

	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/red-packet/grab", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
}
