package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ControlHandler serves the control api over JSON.
type ControlHandler struct {
	control ports.ControlService
	timeout time.Duration
	logger  *zap.SugaredLogger
}

var _ ports.ControlHandler = (*ControlHandler)(nil)

func NewControlHandler(control ports.ControlService, timeout time.Duration, logger *zap.SugaredLogger) *ControlHandler {
	return &ControlHandler{
		control: control,
		timeout: timeout,
		logger:  logger,
	}
}

// SetupRoutes mounts the control api under /control. Extra middleware
// (auth) applies to every route.
func (h *ControlHandler) SetupRoutes(router gin.IRouter, middleware ...gin.HandlerFunc) {
	api := router.Group("/control", middleware...)
	{
		api.GET("", h.GetMany)
		api.DELETE("", h.DeleteMany)

		api.POST("/:room", h.CreateRoom)
		api.PUT("/:room", h.ApplyRoom)
		api.GET("/:room", h.Get)
		api.DELETE("/:room", h.Delete)

		api.POST("/:room/:member", h.CreateMember)
		api.GET("/:room/:member", h.Get)
		api.DELETE("/:room/:member", h.Delete)

		api.POST("/:room/:member/:endpoint", h.CreateEndpoint)
		api.GET("/:room/:member/:endpoint", h.Get)
		api.DELETE("/:room/:member/:endpoint", h.Delete)
	}
}

type SidsResponse struct {
	Sids ports.Sids `json:"sids"`
}

type ElementsResponse struct {
	Elements map[string]domain.Element `json:"elements"`
}

type FidsRequest struct {
	Fids []string `json:"fids" binding:"required,min=1"`
}

func (h *ControlHandler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func pathURI(c *gin.Context) domain.LocalURI {
	return domain.LocalURI{
		Room:     domain.RoomID(c.Param("room")),
		Member:   domain.MemberID(c.Param("member")),
		Endpoint: domain.EndpointID(c.Param("endpoint")),
	}
}

func (h *ControlHandler) CreateRoom(c *gin.Context) {
	var element domain.RoomElement
	if err := c.ShouldBindJSON(&element); err != nil {
		c.Error(badBody(err))
		return
	}
	spec, err := element.ToSpec(domain.RoomID(c.Param("room")))
	if err != nil {
		c.Error(controlError(err))
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()
	sids, err := h.control.CreateRoom(ctx, spec)
	if err != nil {
		c.Error(controlError(err))
		return
	}

	h.logger.Infow("Room created", "room_id", spec.ID, "members", len(spec.Members))
	c.JSON(http.StatusCreated, SidsResponse{Sids: sids})
}

func (h *ControlHandler) ApplyRoom(c *gin.Context) {
	var element domain.RoomElement
	if err := c.ShouldBindJSON(&element); err != nil {
		c.Error(badBody(err))
		return
	}
	spec, err := element.ToSpec(domain.RoomID(c.Param("room")))
	if err != nil {
		c.Error(controlError(err))
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()
	sids, err := h.control.Apply(ctx, spec)
	if err != nil {
		c.Error(controlError(err))
		return
	}

	h.logger.Infow("Room applied", "room_id", spec.ID, "members", len(spec.Members))
	c.JSON(http.StatusOK, SidsResponse{Sids: sids})
}

func (h *ControlHandler) CreateMember(c *gin.Context) {
	var element domain.MemberElement
	if err := c.ShouldBindJSON(&element); err != nil {
		c.Error(badBody(err))
		return
	}
	uri := pathURI(c)
	spec, err := element.ToSpec(uri.Member)
	if err != nil {
		c.Error(controlError(domain.NewElementError(err, uri)))
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()
	sids, err := h.control.CreateMember(ctx, uri.Room, spec)
	if err != nil {
		c.Error(controlError(err))
		return
	}

	h.logger.Infow("Member created", "room_id", uri.Room, "member_id", spec.ID)
	c.JSON(http.StatusCreated, SidsResponse{Sids: sids})
}

func (h *ControlHandler) CreateEndpoint(c *gin.Context) {
	var element domain.EndpointElement
	if err := c.ShouldBindJSON(&element); err != nil {
		c.Error(badBody(err))
		return
	}
	uri := pathURI(c)

	ctx, cancel := h.context(c)
	defer cancel()
	if err := h.control.CreateEndpoint(ctx, uri, &element); err != nil {
		c.Error(controlError(err))
		return
	}

	h.logger.Infow("Endpoint created", "room_id", uri.Room, "member_id", uri.Member, "endpoint_id", uri.Endpoint)
	c.JSON(http.StatusCreated, SidsResponse{Sids: ports.Sids{}})
}

func (h *ControlHandler) Delete(c *gin.Context) {
	h.delete(c, []domain.LocalURI{pathURI(c)})
}

func (h *ControlHandler) DeleteMany(c *gin.Context) {
	var req FidsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(badBody(err))
		return
	}
	uris, err := parseFids(req.Fids)
	if err != nil {
		c.Error(controlError(err))
		return
	}
	h.delete(c, uris)
}

func (h *ControlHandler) delete(c *gin.Context, uris []domain.LocalURI) {
	ctx, cancel := h.context(c)
	defer cancel()
	if err := h.control.Delete(ctx, uris); err != nil {
		c.Error(controlError(err))
		return
	}

	h.logger.Infow("Elements deleted", "elements", len(uris))
	c.JSON(http.StatusOK, gin.H{})
}

func (h *ControlHandler) Get(c *gin.Context) {
	h.get(c, []domain.LocalURI{pathURI(c)})
}

// GetMany serves GET /control?fid=a&fid=b/c; no fids returns every room.
func (h *ControlHandler) GetMany(c *gin.Context) {
	uris, err := parseFids(c.QueryArray("fid"))
	if err != nil {
		c.Error(controlError(err))
		return
	}
	h.get(c, uris)
}

func (h *ControlHandler) get(c *gin.Context, uris []domain.LocalURI) {
	ctx, cancel := h.context(c)
	defer cancel()
	elements, err := h.control.Get(ctx, uris)
	if err != nil {
		c.Error(controlError(err))
		return
	}
	c.JSON(http.StatusOK, ElementsResponse{Elements: elements})
}

func parseFids(fids []string) ([]domain.LocalURI, error) {
	uris := make([]domain.LocalURI, 0, len(fids))
	for _, fid := range fids {
		uri, err := domain.ParseFid(fid)
		if err != nil {
			return nil, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func badBody(err error) *errors.AppError {
	return errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid request body: "+err.Error(), http.StatusBadRequest)
}

// controlError maps a domain error onto its control api code and status.
func controlError(err error) *errors.AppError {
	var (
		code   errors.ErrorCode
		status int
	)
	switch {
	case stderrors.Is(err, domain.ErrRoomNotFound), stderrors.Is(err, domain.ErrRoomClosed):
		code, status = errors.ErrCodeRoomNotFound, http.StatusNotFound
	case stderrors.Is(err, domain.ErrRoomAlreadyExists):
		code, status = errors.ErrCodeRoomAlreadyExists, http.StatusConflict
	case stderrors.Is(err, domain.ErrMemberNotFound), stderrors.Is(err, domain.ErrMemberNotExists):
		code, status = errors.ErrCodeMemberNotFound, http.StatusNotFound
	case stderrors.Is(err, domain.ErrMemberExists):
		code, status = errors.ErrCodeMemberAlreadyExists, http.StatusConflict
	case stderrors.Is(err, domain.ErrEndpointNotFound):
		code, status = errors.ErrCodeEndpointNotFound, http.StatusNotFound
	case stderrors.Is(err, domain.ErrEndpointExists):
		code, status = errors.ErrCodeEndpointAlreadyExists, http.StatusConflict
	case stderrors.Is(err, domain.ErrBadRoomSpec):
		code, status = errors.ErrCodeBadRoomSpec, http.StatusBadRequest
	case stderrors.Is(err, domain.ErrInvalidFid):
		code, status = errors.ErrCodeInvalidFid, http.StatusBadRequest
	case stderrors.Is(err, context.DeadlineExceeded):
		code, status = errors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable
	default:
		code, status = errors.ErrCodeUnknown, http.StatusInternalServerError
	}

	appErr := errors.WrapError(err, code, err.Error(), status)
	if uri, ok := domain.ElementURI(err); ok {
		appErr.WithElement(uri.String())
	}
	return appErr
}
