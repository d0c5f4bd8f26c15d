package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/couchcryptid/alertify-service/internal/hub"
	"github.com/couchcryptid/alertify-service/internal/incident"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// DefaultKeepAlive is the SSE comment interval when none is configured.
const DefaultKeepAlive = 20 * time.Second

// Incidents is the service surface the API drives.
type Incidents interface {
	CreatePost(ctx context.Context, caller domain.Caller, author, content string) (domain.Post, error)
	GetPost(ctx context.Context, caller domain.Caller, id int64) (domain.Post, error)
	GetPosts(ctx context.Context, caller domain.Caller, f incident.Filter) ([]domain.Post, error)
	UpdatePostStatus(ctx context.Context, caller domain.Caller, id int64, to domain.Status) (domain.Post, error)
	OverridePostStatus(ctx context.Context, caller domain.Caller, id int64, to domain.Status) (domain.Post, error)
	Subscribe(ctx context.Context, caller domain.Caller) (*hub.Subscription, error)
	Analytics(ctx context.Context, caller domain.Caller) (incident.Analytics, error)
	Export(ctx context.Context, caller domain.Caller, w io.Writer) error
}

// APIConfig holds the API's tunables.
type APIConfig struct {
	AdminToken string
	KeepAlive  time.Duration
}

// API is the gin binding of the incident service.
type API struct {
	svc      Incidents
	cfg      APIConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewAPI builds the gin engine serving /api/.
func NewAPI(svc Incidents, cfg APIConfig, logger *slog.Logger) http.Handler {
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	a := &API{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(requestID(), requestLogger(logger), recovery(logger), resolveCaller(cfg.AdminToken))

	api := r.Group("/api")
	api.GET("/me", a.me)
	api.POST("/posts", a.createPost)
	api.GET("/posts", a.listPosts)
	api.GET("/posts/:id", a.getPost)
	api.PATCH("/posts/:id/status", a.updateStatus)
	api.GET("/stream", a.stream)
	api.GET("/ws", a.serveWS)
	api.GET("/analytics", a.analytics)
	api.GET("/export", a.export)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func (a *API) me(c *gin.Context) {
	caller := callerFrom(c)
	c.JSON(http.StatusOK, gin.H{"name": caller.Name, "role": caller.Role})
}

type createPostRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

func (a *API) createPost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, &domain.ValidationError{Field: "body", Reason: "must be a JSON object"}, "failed to post")
		return
	}
	post, err := a.svc.CreatePost(c.Request.Context(), callerFrom(c), req.Author, req.Content)
	if err != nil {
		a.fail(c, err, "failed to post")
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (a *API) listPosts(c *gin.Context) {
	var f incident.Filter
	var err error
	if f.OnlyDisaster, err = queryBool(c, "only_disaster"); err != nil {
		a.fail(c, err, "failed to load posts")
		return
	}
	if f.IncludeFiltered, err = queryBool(c, "include_filtered"); err != nil {
		a.fail(c, err, "failed to load posts")
		return
	}
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			a.fail(c, &domain.ValidationError{Field: "limit", Reason: "must be an integer"}, "failed to load posts")
			return
		}
	}

	posts, err := a.svc.GetPosts(c.Request.Context(), callerFrom(c), f)
	if err != nil {
		a.fail(c, err, "failed to load posts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts, "count": len(posts)})
}

func (a *API) getPost(c *gin.Context) {
	id, err := postID(c)
	if err != nil {
		a.fail(c, err, "failed to load post")
		return
	}
	post, err := a.svc.GetPost(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		a.fail(c, err, "failed to load post")
		return
	}
	c.JSON(http.StatusOK, post)
}

type statusRequest struct {
	Status   string `json:"status"`
	Override bool   `json:"override"`
}

func (a *API) updateStatus(c *gin.Context) {
	id, err := postID(c)
	if err != nil {
		a.fail(c, err, "failed to update post")
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, &domain.ValidationError{Field: "body", Reason: "must be a JSON object"}, "failed to update post")
		return
	}
	to, ok := domain.ParseStatus(req.Status)
	if !ok {
		a.fail(c, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", req.Status)}, "failed to update post")
		return
	}

	caller := callerFrom(c)
	var post domain.Post
	if req.Override {
		post, err = a.svc.OverridePostStatus(c.Request.Context(), caller, id, to)
	} else {
		post, err = a.svc.UpdatePostStatus(c.Request.Context(), caller, id, to)
	}
	if err != nil {
		a.fail(c, err, "failed to update post")
		return
	}
	c.JSON(http.StatusOK, post)
}

func (a *API) analytics(c *gin.Context) {
	summary, err := a.svc.Analytics(c.Request.Context(), callerFrom(c))
	if err != nil {
		a.fail(c, err, "failed to load analytics")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *API) export(c *gin.Context) {
	// Buffered so a storage failure still yields a clean error response.
	var buf bytes.Buffer
	if err := a.svc.Export(c.Request.Context(), callerFrom(c), &buf); err != nil {
		a.fail(c, err, "failed to export")
		return
	}
	name := fmt.Sprintf("alertify-export-%s.csv", domain.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func postID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}

func queryBool(c *gin.Context, key string) (bool, error) {
	v := c.Query(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &domain.ValidationError{Field: key, Reason: "must be a boolean"}
	}
	return b, nil
}
