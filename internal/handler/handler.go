package handler

import (
	"context"
	"errors"
	"strconv"

	"redpacket/internal/job"
	"redpacket/internal/model"
	"redpacket/internal/repository"
	"redpacket/internal/service"
	"redpacket/pkg/logger"
	"redpacket/pkg/money"
	"redpacket/pkg/response"

	"github.com/gin-gonic/gin"
)

// SettlementRunner 手动触发对账，与定时任务共用一把锁
type SettlementRunner interface {
	RunOnce(ctx context.Context, limit int) (*job.SettlementSummary, error)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	activities *service.ActivityService
	grab       *service.GrabService
	accounts   *service.AccountService
	settlement SettlementRunner
}

func NewHandler(activities *service.ActivityService, grab *service.GrabService, accounts *service.AccountService, settlement SettlementRunner) *Handler {
	return &Handler{
		activities: activities,
		grab:       grab,
		accounts:   accounts,
		settlement: settlement,
	}
}

var grabCodes = map[service.GrabCode]int{
	service.GrabSuccess:          response.CodeSuccess,
	service.GrabActivityNotFound: response.CodeActivityNotFound,
	service.GrabNotStarted:       response.CodeActivityNotStarted,
	service.GrabEnded:            response.CodeActivityEnded,
	service.GrabCancelled:        response.CodeActivityCancelled,
	service.GrabAlreadyGrabbed:   response.CodeAlreadyGrabbed,
	service.GrabNoPacketLeft:     response.CodeNoPacketLeft,
	service.GrabRateLimited:      response.CodeRateLimited,
	service.GrabSystemBusy:       response.CodeSystemBusy,
}

// fail 把 service 错误映射为响应码，未知错误不把细节返回给调用方
func fail(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		response.ParamError(c, validationErr.Error())
	case errors.Is(err, service.ErrActivityNotFound):
		response.NotFound(c, "活动不存在")
	case errors.Is(err, service.ErrStatusConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, job.ErrAlreadyRunning):
		response.Conflict(c, "对账任务正在执行，请稍后再试")
	default:
		_ = c.Error(err)
		logger.L().WithField("request_id", c.GetString(ctxRequestID)).WithError(err).Error("请求处理失败")
		response.ServerError(c, "服务器内部错误")
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "活动ID参数错误")
		return 0, false
	}
	return id, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

func pageData(list interface{}, total int64, page, pageSize int) gin.H {
	return gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}
}

// ============================================================
// 后台接口
// ============================================================

// CreateActivity 创建红包活动
// POST /api/v1/admin/red-packet/activities
func (h *Handler) CreateActivity(c *gin.Context) {
	var req service.CreateActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	activity, err := h.activities.CreateActivity(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, activity)
}

// ListActivities GET /api/v1/admin/red-packet/activities?status=&name=&page=&page_size=
func (h *Handler) ListActivities(c *gin.Context) {
	page, pageSize := pageParams(c)
	activities, total, err := h.activities.ListActivities(c.Request.Context(), repository.ActivityFilter{
		Status:   c.Query("status"),
		Name:     c.Query("name"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, pageData(activities, total, page, pageSize))
}

func (h *Handler) GetActivity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	detail, err := h.activities.GetActivityDetail(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, detail)
}

func (h *Handler) ListPackets(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	packets, total, err := h.activities.ListPackets(c.Request.Context(), id, c.Query("status"), page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, pageData(packets, total, page, pageSize))
}

func (h *Handler) ListRecords(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	records, total, err := h.activities.ListRecords(c.Request.Context(), id, page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, pageData(records, total, page, pageSize))
}

func (h *Handler) GetActivityStats(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	stats, err := h.activities.GetActivityStats(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, stats)
}

func (h *Handler) StartActivity(c *gin.Context) {
	h.transition(c, h.activities.StartActivity)
}

func (h *Handler) EndActivity(c *gin.Context) {
	h.transition(c, h.activities.EndActivity)
}

func (h *Handler) CancelActivity(c *gin.Context) {
	h.transition(c, h.activities.CancelActivity)
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, id int64) (*model.RedPacketActivity, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	activity, err := fn(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, activity)
}

// PreloadActivity 手动预热
func (h *Handler) PreloadActivity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	n, err := h.activities.Preload(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"activity_id": id, "available": n})
}

func (h *Handler) EvictActivity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.activities.Evict(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"activity_id": id})
}

// RunSettlement 手动触发一轮对账
// POST /api/v1/admin/red-packet/settlement/run?limit=
func (h *Handler) RunSettlement(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	summary, err := h.settlement.RunOnce(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, summary)
}

// ============================================================
// 用户接口
// ============================================================

func userID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

func (h *Handler) ListOngoing(c *gin.Context) {
	page, pageSize := pageParams(c)
	views, total, err := h.activities.ListOngoingForUser(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, pageData(views, total, page, pageSize))
}

func (h *Handler) GetActivityForUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.activities.GetActivityForUser(c.Request.Context(), id, userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, view)
}

// GrabRequest 抢红包请求
type GrabRequest struct {
	ActivityID int64 `json:"activity_id" binding:"required,gt=0"`
}

// Grab 抢红包
// POST /api/v1/red-packet/grab
// 业务失败也带上结果数据，便于前端展示剩余数量
func (h *Handler) Grab(c *gin.Context) {
	var req GrabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	res, err := h.grab.Grab(c.Request.Context(), req.ActivityID, userID(c))
	if err != nil {
		_ = c.Error(err)
		logger.L().WithActivity(req.ActivityID).WithError(err).Error("抢红包失败")
		response.BusinessError(c, response.CodeSystemBusy, service.GrabSystemBusy.Message())
		return
	}

	if res.Success() {
		response.Success(c, res)
		return
	}
	response.BusinessResult(c, grabCodes[res.Code], res.Message, res)
}

func (h *Handler) ListMyRecords(c *gin.Context) {
	page, pageSize := pageParams(c)
	records, total, err := h.activities.ListUserRecords(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, pageData(records, total, page, pageSize))
}

func (h *Handler) GetMyStats(c *gin.Context) {
	stats, err := h.activities.GetUserStats(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, stats)
}

// GetBalance 查询入账后的余额
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.accounts.GetBalance(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":      userID(c),
		"balance":      balance,
		"balance_yuan": money.Yuan(balance),
	})
}
