// internal/api/auth_middleware.go
package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ShotPipelineMCP/internal/auth"
	"github.com/Corphon/ShotPipelineMCP/internal/config"
	"github.com/Corphon/ShotPipelineMCP/internal/storage"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// guestUser 未携带令牌时的调用方
const guestUser = "console_user"

// InitializeAuth 根据配置生成令牌配置
func InitializeAuth(cfg *config.AppConfig) (*auth.TokenConfig, error) {
	secret, ephemeral, err := auth.ResolveSecret(cfg.AuthSecretKey, cfg.DebugMode)
	if err != nil {
		return nil, err
	}

	logger := utils.GetLogger()
	switch {
	case ephemeral:
		logger.Warn("未设置 AUTH_SECRET_KEY，使用随机密钥；重启后已签发的令牌失效", nil)
	case cfg.AuthSecretKey == "":
		logger.Warn("开发模式下使用固定认证密钥，生产环境请通过环境变量设置 AUTH_SECRET_KEY", nil)
	}

	return &auth.TokenConfig{
		Secret:     secret,
		Expiration: 24 * time.Hour,
	}, nil
}

// AuthMiddleware 解析 Bearer 令牌。required 为 false 时无效令牌降级为访客；
// 为 true 时必须携带已批准且允许访问该项目的令牌。
func AuthMiddleware(tokenConfig *auth.TokenConfig, required bool) gin.HandlerFunc {
	rh := NewResponseHelper()
	logger := utils.GetLogger()

	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			if required {
				rh.Unauthorized(c, "需要登录后才能访问")
				c.Abort()
				return
			}
			setGuest(c)
			c.Next()
			return
		}

		claims, err := auth.ParseToken(token, tokenConfig)
		if err != nil {
			if required {
				rh.Unauthorized(c, "令牌无效", err.Error())
				c.Abort()
				return
			}
			logger.Debug("无效令牌，降级为访客", map[string]interface{}{
				"error": err.Error(),
			})
			setGuest(c)
			c.Set("auth_error", err.Error())
			c.Next()
			return
		}

		if required && !claims.Approved {
			rh.Forbidden(c, "账号尚未通过审批")
			c.Abort()
			return
		}
		if project := c.Param("project"); project != "" && !claims.AllowsProject(storage.Slug(project)) {
			rh.Forbidden(c, "无权访问该项目")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_authenticated", true)
		c.Set("claims", claims)
		c.Next()
	}
}

// extractToken 读取 Authorization 头；WebSocket 握手无法设置头部时读取 token 查询参数
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

func setGuest(c *gin.Context) {
	c.Set("user_id", guestUser)
	c.Set("user_authenticated", false)
}

// GetUserFromContext retrieves the authenticated user from the context
func GetUserFromContext(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		return "", false
	}
	return userID, c.GetBool("user_authenticated")
}
