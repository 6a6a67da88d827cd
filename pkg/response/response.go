package response

import "github.com/gin-gonic/gin"

// Response is the error envelope every endpoint uses for failures.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error sends an error response with the given HTTP status.
func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{Code: code, Message: message})
}

// BadRequest sends a 400 bad request response
func BadRequest(c *gin.Context, message string) {
	Error(c, 400, message)
}

// NotFound sends a 404 not found response
func NotFound(c *gin.Context, message string) {
	Error(c, 404, message)
}

// ServiceUnavailable sends a 503 response for upstream outages
func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, 503, message)
}

// InternalError sends a 500 internal server error response
func InternalError(c *gin.Context, message string) {
	Error(c, 500, message)
}
