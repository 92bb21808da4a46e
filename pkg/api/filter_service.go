package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/audisp_filter/pkg/matcher"
	"github.com/haolipeng/audisp_filter/pkg/service"
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// FilterService exposes the running filter over the admin API. Validation
// uses its own engine instance so API requests never touch the state the
// service loop evaluates with.
type FilterService struct {
	svc       *service.Service
	validator *matcher.CELEngine
}

func NewFilterService(svc *service.Service) (*FilterService, error) {
	engine, err := matcher.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create validation engine: %w", err)
	}
	return &FilterService{svc: svc, validator: engine}, nil
}

// GetStatus reports the filter mode, active rule count and counters.
func (fs *FilterService) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "ok",
		Data: map[string]interface{}{
			"mode":        fs.svc.Mode().String(),
			"config_file": fs.svc.ConfigFile(),
			"rule_count":  fs.svc.ActiveRules().Len(),
			"metrics":     fs.svc.Metrics().GetStats(),
		},
	})
}

type ruleInfo struct {
	Line       int    `json:"line"`
	Expression string `json:"expression"`
}

// GetRules lists the active rule set in insertion order.
func (fs *FilterService) GetRules(c echo.Context) error {
	active := fs.svc.ActiveRules()

	list := make([]ruleInfo, 0, active.Len())
	for _, r := range active.Rules() {
		list = append(list, ruleInfo{Line: r.Line, Expression: r.Expression})
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    list,
	})
}

type validateRequest struct {
	Expression string `json:"expression"`
}

// ValidateRule checks a single expression without installing it.
func (fs *FilterService) ValidateRule(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: fmt.Sprintf("invalid request: %v", err),
		})
	}

	if req.Expression == "" {
		return c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: "expression is required",
		})
	}

	if err := fs.validator.CheckExpression(req.Expression); err != nil {
		return c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: fmt.Sprintf("invalid expression: %v", err),
		})
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "expression is valid",
	})
}

// Reload marks a reload pending, exactly as a SIGHUP would.
func (fs *FilterService) Reload(c echo.Context) error {
	logrus.Info("Reload requested over the admin API")
	fs.svc.TriggerReload()

	return c.JSON(http.StatusAccepted, Response{
		Code:    http.StatusAccepted,
		Message: "reload pending",
	})
}
