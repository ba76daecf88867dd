package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tickerdeck/services/githubreader"
)

// ToolsController handles utility requests
type ToolsController struct {
	reader *githubreader.Reader
}

// NewToolsController creates a new tools controller
func NewToolsController() *ToolsController {
	return &ToolsController{reader: githubreader.NewReader()}
}

// ReadGitHubFile fetches a file from GitHub and returns its content
// POST /api/v1/tools/read-github-file
func (tc *ToolsController) ReadGitHubFile(c *gin.Context) {
	var request struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := tc.reader.ReadFile(c.Request.Context(), request.URL, request.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
