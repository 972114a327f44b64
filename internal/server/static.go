package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StaticHandler serves the front-end from dir for any route the API does not claim.
// Directories fall back to index.html, or a listing when there is none.
func StaticHandler(dir string) gin.HandlerFunc {
	files := http.FileServer(gin.Dir(dir, true))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		// NoRoute arrives with 404 set; FileServer only overrides it on errors and redirects.
		c.Status(http.StatusOK)
		files.ServeHTTP(c.Writer, c.Request)
	}
}
