package httpapi

import (
	"net/http"
	"time"

	appmon "infodigest/internal/application/monitoring"
	authDomain "infodigest/internal/domain/auth"
	dm "infodigest/internal/domain/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) handleCreateStrategy(c *gin.Context) {
	var body struct {
		Name       string        `json:"name"`
		Symbol     string        `json:"symbol"`
		Kind       string        `json:"kind"`
		Conditions dm.Conditions `json:"conditions"`
		Priority   int           `json:"priority"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body", "error_code": errCodeBadRequest})
		return
	}

	rule := dm.Rule{
		ID:         uuid.NewString(),
		UserID:     c.GetString("userID"),
		Name:       body.Name,
		Symbol:     body.Symbol,
		Kind:       dm.ConditionKind(body.Kind),
		Conditions: body.Conditions,
		Priority:   body.Priority,
		Status:     dm.StatusActive,
		CreatedAt:  time.Now(),
	}
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error(), "error_code": errCodeBadRequest})
		return
	}

	if err := s.rules.CreateRule(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "create strategy failed", "error_code": errCodeInternal})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "strategy": toRuleView(rule)})
}

func (s *Server) handleListStrategies(c *gin.Context) {
	rules, err := s.rules.ListRulesByUser(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list strategies failed", "error_code": errCodeInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategies": toRuleViews(rules), "count": len(rules)})
}

// loadOwnedRule 取得規則並檢查本人或 admin，失敗時已寫入回應。
func (s *Server) loadOwnedRule(c *gin.Context) (dm.Rule, bool) {
	rule, err := s.rules.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "strategy not found", "error_code": errCodeNotFound})
		return dm.Rule{}, false
	}
	if rule.UserID != c.GetString("userID") && c.GetString("role") != string(authDomain.RoleAdmin) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "strategy not found", "error_code": errCodeNotFound})
		return dm.Rule{}, false
	}
	return rule, true
}

func (s *Server) handleGetStrategy(c *gin.Context) {
	rule, ok := s.loadOwnedRule(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategy": toRuleView(rule)})
}

func (s *Server) handleUpdateStrategyStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body", "error_code": errCodeBadRequest})
		return
	}
	status := dm.Status(body.Status)
	switch status {
	case dm.StatusActive, dm.StatusPaused, dm.StatusCompleted:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid status", "error_code": errCodeBadRequest})
		return
	}

	if err := s.rules.UpdateRuleStatus(c.Request.Context(), c.Param("id"), c.GetString("userID"), status); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "strategy not found", "error_code": errCodeNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": body.Status})
}

func (s *Server) handleDeleteStrategy(c *gin.Context) {
	if err := s.rules.DeleteRule(c.Request.Context(), c.Param("id"), c.GetString("userID")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "strategy not found", "error_code": errCodeNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleTestStrategy 以當前市場資料試跑規則，不記錄觸發也不產生通知。
func (s *Server) handleTestStrategy(c *gin.Context) {
	rule, ok := s.loadOwnedRule(c)
	if !ok {
		return
	}

	in := appmon.EvalInput{Rule: rule, Now: time.Now()}
	if rule.Symbol != "" {
		snap, err := s.market.GetSnapshot(c.Request.Context(), rule.Symbol)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "load snapshot failed", "error_code": errCodeInternal})
			return
		}
		in.Snapshot = snap
	}
	if rule.Kind == dm.KindNews {
		news, err := s.news.RecentNews(c.Request.Context(), rule.Symbol, 24*time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "load news failed", "error_code": errCodeInternal})
			return
		}
		in.News = news
	}

	matched, reason := s.evaluators.Evaluate(in)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"matched":  matched,
		"reason":   reason,
		"snapshot": toSnapshotView(in.Snapshot),
	})
}
