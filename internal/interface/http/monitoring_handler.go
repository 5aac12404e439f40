package httpapi

import (
	"net/http"

	authDomain "infodigest/internal/domain/auth"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleMonitoringStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"engine":  s.engine.Status(),
		"queue":   s.queue.GetStatus(),
	})
}

func (s *Server) handleMonitoringStart(c *gin.Context) {
	s.engine.Start()
	s.queue.Start()
	c.JSON(http.StatusOK, gin.H{"success": true, "engine": s.engine.Status()})
}

func (s *Server) handleMonitoringStop(c *gin.Context) {
	s.engine.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true, "engine": s.engine.Status()})
}

func (s *Server) handleCheckCycle(c *gin.Context) {
	stats, err := s.engine.RunCycleOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error(), "error_code": errCodeConflict})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats, "duration": stats.Duration.String()})
}

// handleActiveStrategies 回傳監控中的策略；一般使用者僅見本人，
// admin 可看全部或以 user_id 過濾。
func (s *Server) handleActiveStrategies(c *gin.Context) {
	rules, err := s.rules.ListActiveRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list strategies failed", "error_code": errCodeInternal})
		return
	}

	filter := c.GetString("userID")
	if c.GetString("role") == string(authDomain.RoleAdmin) {
		filter = c.Query("user_id")
	}
	if filter != "" {
		kept := rules[:0]
		for _, r := range rules {
			if r.UserID == filter {
				kept = append(kept, r)
			}
		}
		rules = kept
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategies": toRuleViews(rules), "count": len(rules)})
}

// handleActiveFocusItems 回傳監控中的臨時關注，過濾規則同上。
func (s *Server) handleActiveFocusItems(c *gin.Context) {
	items, err := s.rules.ListActiveFocus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list focus failed", "error_code": errCodeInternal})
		return
	}

	filter := c.GetString("userID")
	if c.GetString("role") == string(authDomain.RoleAdmin) {
		filter = c.Query("user_id")
	}
	if filter != "" {
		kept := items[:0]
		for _, f := range items {
			if f.UserID == filter {
				kept = append(kept, f)
			}
		}
		items = kept
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "focusItems": toFocusViews(items), "count": len(items)})
}

// handleQueuePending 回傳本人的待送通知；admin 可用 user_id 查詢他人。
func (s *Server) handleQueuePending(c *gin.Context) {
	userID := c.GetString("userID")
	if target := c.Query("user_id"); target != "" && target != userID {
		if c.GetString("role") != string(authDomain.RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "forbidden", "error_code": errCodeForbidden})
			return
		}
		userID = target
	}

	pending := s.queue.PendingForUser(userID)
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"notifications": toNotificationViews(pending),
		"count":         len(pending),
	})
}

func (s *Server) handleQueueClear(c *gin.Context) {
	removed := s.queue.Clear()
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

func (s *Server) handleRefreshTechnicals(c *gin.Context) {
	if symbol := c.Query("symbol"); symbol != "" {
		if err := s.refresher.RefreshSymbol(c.Request.Context(), symbol); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "error_code": errCodeInternal})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "refreshed": 1})
		return
	}

	n, err := s.refresher.RefreshAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "error_code": errCodeInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "refreshed": n})
}
