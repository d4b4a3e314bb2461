package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UserContextKey gin 上下文中用户信息的键
const UserContextKey = "user_context"

// UserContext 请求上下文中的用户信息
type UserContext struct {
	UserID string
	Roles  []string
}

// HasRole 是否拥有指定角色
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
			return
		}

		tokenString := ExtractTokenFromBearer(authHeader)
		claims, err := jwtService.ValidateToken(c.Request.Context(), tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "认证令牌无效或已过期"})
			return
		}

		if claims.TokenType != "access" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "令牌类型错误"})
			return
		}

		c.Set(UserContextKey, &UserContext{
			UserID: claims.UserID,
			Roles:  claims.Roles,
		})
		c.Next()
	}
}

// RequireRole 角色校验中间件，需在 AuthMiddleware 之后使用
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := GetUserContext(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}
		for _, role := range roles {
			if user.HasRole(role) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "权限不足"})
	}
}

// GetUserContext 从 gin 上下文中取出用户信息，未认证时返回 nil
func GetUserContext(c *gin.Context) *UserContext {
	val, exists := c.Get(UserContextKey)
	if !exists {
		return nil
	}
	user, ok := val.(*UserContext)
	if !ok {
		return nil
	}
	return user
}
