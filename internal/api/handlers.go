package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/looplight/llmauth/internal/auth"
)

func (s *Server) source(c *gin.Context) (Source, bool) {
	id := c.Param("provider")
	src, ok := s.sources[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider: " + id})
		return nil, false
	}
	return src, true
}

// listProviders reports the credential state of every provider the broker
// serves. Nothing here touches the network.
func (s *Server) listProviders(c *gin.Context) {
	ids := make([]string, 0, len(s.sources))
	for id := range s.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	statuses := make([]auth.Status, 0, len(ids))
	for _, id := range ids {
		statuses = append(statuses, s.sources[id].Status())
	}
	c.JSON(http.StatusOK, gin.H{"providers": statuses})
}

func (s *Server) providerStatus(c *gin.Context) {
	src, ok := s.source(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, src.Status())
}

// providerToken returns a live access token plus everything a caller needs
// to issue provider API requests. Acquiring the token may trigger a refresh
// or companion import; interactive login is disabled in broker mode, so a
// dead credential chain surfaces as an error here.
func (s *Server) providerToken(c *gin.Context) {
	src, ok := s.source(c)
	if !ok {
		return
	}
	token, err := src.GetAccessToken(c.Request.Context())
	if err != nil {
		abortWithAuthError(c, err)
		return
	}
	headers, err := src.DefaultHeaders(c.Request.Context())
	if err != nil {
		abortWithAuthError(c, err)
		return
	}
	st := src.Status()
	c.JSON(http.StatusOK, gin.H{
		"provider":     st.Provider,
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   st.ExpiresAt,
		"api_base":     src.GetAPIBase(),
		"project_id":   src.GetProjectID(),
		"headers":      headers,
	})
}

// providerRefresh forces a refresh even if the cached token is still live.
func (s *Server) providerRefresh(c *gin.Context) {
	src, ok := s.source(c)
	if !ok {
		return
	}
	rec, err := src.ForceRefresh(c.Request.Context())
	if err != nil {
		abortWithAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":   c.Param("provider"),
		"refreshed":  true,
		"expires_at": rec.ExpiresAt,
	})
}

// listEvents returns the journal tail, optionally filtered by provider.
func (s *Server) listEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.events.Recent(c.Query("provider"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// abortWithAuthError maps the package's typed errors onto HTTP responses,
// keeping their status codes.
func abortWithAuthError(c *gin.Context, err error) {
	var getErr *auth.GetAccessTokenError
	if errors.As(err, &getErr) {
		c.JSON(getErr.StatusCode, gin.H{"error": getErr.Message})
		return
	}
	var refreshErr *auth.RefreshAccessTokenError
	if errors.As(err, &refreshErr) {
		c.JSON(refreshErr.StatusCode, gin.H{"error": refreshErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
