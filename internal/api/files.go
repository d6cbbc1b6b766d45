package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/filewarden/internal/backup"
	"github.com/jmerrifield20/filewarden/internal/identity"
	"github.com/jmerrifield20/filewarden/internal/ledger"
	"github.com/jmerrifield20/filewarden/internal/merkle"
	"github.com/jmerrifield20/filewarden/internal/warden"
	"go.uber.org/zap"
)

// fileService is the interface expected by FileHandler, satisfied by *warden.Service.
type fileService interface {
	Upload(ctx context.Context, r io.Reader, filename, principal string) (*warden.UploadResult, error)
	RequestModify(ctx context.Context, name, claimedToken, principal string) (*warden.Grant, error)
	NotifyEditDone(ctx context.Context, name string) (*ledger.Block, error)
	CancelEdit(ctx context.Context, name string) error
	Files(ctx context.Context) ([]warden.FileStatus, error)
	History(ctx context.Context, name string) ([]*ledger.Block, error)
	Session(name string) (warden.Session, bool)
}

// FileHandler serves upload, listing and edit-session routes.
type FileHandler struct {
	svc     fileService
	tickets *identity.SessionIssuer // nil disables ticket checks on done/cancel
	logger  *zap.Logger
}

// NewFileHandler creates a FileHandler. tickets may be nil.
func NewFileHandler(svc fileService, tickets *identity.SessionIssuer, logger *zap.Logger) *FileHandler {
	return &FileHandler{svc: svc, tickets: tickets, logger: logger}
}

// Register mounts the file routes on the given router group.
func (h *FileHandler) Register(rg *gin.RouterGroup) {
	f := rg.Group("/files")
	{
		f.POST("", h.Upload)
		f.GET("", h.List)
		f.GET("/:name/history", h.History)
		f.POST("/:name/modify", h.Modify)
		f.POST("/:name/done", h.requireTicket(), h.Done)
		f.POST("/:name/cancel", h.requireTicket(), h.Cancel)
	}
}

// requireTicket checks the Bearer session ticket against the open session
// for :name. A ticket from an earlier, closed session is refused.
func (h *FileHandler) requireTicket() gin.HandlerFunc {
	if h.tickets == nil {
		return func(c *gin.Context) { c.Next() }
	}
	verify := identity.RequireTicket(h.tickets)
	return func(c *gin.Context) {
		verify(c)
		if c.IsAborted() {
			return
		}
		claims := identity.SessionClaimsFromCtx(c)
		name := c.Param("name")
		sess, ok := h.svc.Session(name)
		if claims.Path != name || !ok || sess.ID != claims.ID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "session ticket does not match an open session for " + name})
			return
		}
		c.Next()
	}
}

type modifyRequest struct {
	Token     string `json:"token" binding:"required"`
	Principal string `json:"principal" binding:"required"`
}

type modifyResponse struct {
	Decision      string          `json:"decision"`
	Reason        string          `json:"reason,omitempty"`
	Session       *warden.Session `json:"session,omitempty"`
	SessionTicket string          `json:"session_ticket,omitempty"`
}

// Upload handles POST /files: a multipart form with "file" and "principal".
func (h *FileHandler) Upload(c *gin.Context) {
	principal := c.PostForm("principal")
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	defer f.Close()

	res, err := h.svc.Upload(c.Request.Context(), f, fh.Filename, principal)
	if err != nil {
		h.fail(c, "upload", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// List handles GET /files.
func (h *FileHandler) List(c *gin.Context) {
	files, err := h.svc.Files(c.Request.Context())
	if err != nil {
		h.fail(c, "list files", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

// History handles GET /files/:name/history.
func (h *FileHandler) History(c *gin.Context) {
	blocks, err := h.svc.History(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, "file history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks, "count": len(blocks)})
}

// Modify handles POST /files/:name/modify.
func (h *FileHandler) Modify(c *gin.Context) {
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	grant, err := h.svc.RequestModify(c.Request.Context(), c.Param("name"), req.Token, req.Principal)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("modify request", zap.Error(err))
		}
		c.JSON(status, modifyResponse{
			Decision: string(warden.DecisionDenied),
			Reason:   warden.Reason(err),
		})
		return
	}

	c.JSON(http.StatusOK, modifyResponse{
		Decision:      string(warden.DecisionGranted),
		Session:       &grant.Session,
		SessionTicket: grant.Ticket,
	})
}

// Done handles POST /files/:name/done.
func (h *FileHandler) Done(c *gin.Context) {
	block, err := h.svc.NotifyEditDone(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, "complete edit", err)
		return
	}
	c.JSON(http.StatusOK, block)
}

// Cancel handles POST /files/:name/cancel.
func (h *FileHandler) Cancel(c *gin.Context) {
	if err := h.svc.CancelEdit(c.Request.Context(), c.Param("name")); err != nil {
		h.fail(c, "cancel edit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *FileHandler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op, zap.Error(err))
		c.JSON(status, gin.H{"error": op + " failed"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "reason": warden.Reason(err)})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, warden.ErrNotRegistered), errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, warden.ErrInvalidToken), errors.Is(err, warden.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, warden.ErrAlreadyRegistered),
		errors.Is(err, warden.ErrSessionActive),
		errors.Is(err, warden.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, merkle.ErrEmptyContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, identity.ErrEmptyPrincipal), errors.Is(err, backup.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
