package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"user-directory-service/internal/usecase/user"
	pkgerrors "user-directory-service/pkg/errors"
	"user-directory-service/pkg/logger"
)

// UserHandler handles HTTP requests for user operations
type UserHandler struct {
	uc  user.UserUsecase
	log *zap.Logger
}

// NewUserHandler creates a new UserHandler instance
func NewUserHandler(uc user.UserUsecase, log *zap.Logger) *UserHandler {
	return &UserHandler{
		uc:  uc,
		log: log,
	}
}

// CreateUserRequest represents the HTTP request body for creating a user
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateUserRequest represents the HTTP request body for updating a user.
// Absent or null fields are left unchanged.
type UpdateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// UserResponse represents the HTTP response for user data
type UserResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Detail any `json:"detail"`
}

func toResponse(u *user.User) UserResponse {
	return UserResponse{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}

// CreateUser handles POST /users/
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := decodeBody(c, &req); err != nil {
		h.handleError(c, err)
		return
	}

	resp, err := h.uc.CreateUser(c.Request.Context(), user.CreateUserRequest{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.respondUser(c, resp)
}

// ListUsers handles GET /users/
func (h *UserHandler) ListUsers(c *gin.Context) {
	var fields []pkgerrors.FieldError

	skip, ok := queryInt(c, "skip", 0)
	if !ok {
		fields = append(fields, intParsing("skip"))
	}

	limit, ok := queryInt(c, "limit", 0)
	switch {
	case !ok:
		fields = append(fields, intParsing("limit"))
	case c.Query("limit") != "" && limit < 1:
		fields = append(fields, pkgerrors.FieldError{Field: "limit", Message: "must be greater than or equal to 1", Type: "greater_than_equal"})
	}

	if len(fields) > 0 {
		h.handleError(c, &pkgerrors.ValidationError{Fields: fields})
		return
	}

	resp, err := h.uc.ListUsers(c.Request.Context(), user.ListUsersRequest{
		Skip:  skip,
		Limit: limit,
		Name:  c.Query("name"),
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	users := make([]UserResponse, len(resp.Users))
	for i := range resp.Users {
		users[i] = toResponse(&resp.Users[i])
	}

	c.JSON(http.StatusOK, users)
}

// GetUser handles GET /users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	resp, err := h.uc.GetUser(c.Request.Context(), user.GetUserRequest{ID: id})
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.respondUser(c, resp)
}

// UpdateUser handles PUT /users/:id
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req UpdateUserRequest
	if err := decodeBody(c, &req); err != nil {
		h.handleError(c, err)
		return
	}

	ifMatch, err := parseIfMatch(c.GetHeader("If-Match"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	resp, err := h.uc.UpdateUser(c.Request.Context(), user.UpdateUserRequest{
		ID:      id,
		Name:    req.Name,
		Email:   req.Email,
		IfMatch: ifMatch,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.respondUser(c, resp)
}

// DeleteUser handles DELETE /users/:id
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	ifMatch, err := parseIfMatch(c.GetHeader("If-Match"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	resp, err := h.uc.DeleteUser(c.Request.Context(), user.DeleteUserRequest{ID: id, IfMatch: ifMatch})
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.respondUser(c, resp)
}

func (h *UserHandler) respondUser(c *gin.Context, u *user.User) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(u.Version, 10)))
	c.JSON(http.StatusOK, toResponse(u))
}

// handleError converts usecase errors to HTTP responses. Internal messages
// never reach the client.
func (h *UserHandler) handleError(c *gin.Context, err error) {
	_ = c.Error(err)

	status := pkgerrors.StatusOf(err)

	var validationErr *pkgerrors.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(status, ErrorResponse{Detail: validationErr.Fields})
	case status == http.StatusServiceUnavailable:
		c.JSON(status, ErrorResponse{Detail: user.MsgStoreUnavailable})
	case status >= http.StatusInternalServerError:
		logger.WithContext(c.Request.Context(), h.log).Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: user.MsgInternalError})
	default:
		c.JSON(status, ErrorResponse{Detail: err.Error()})
	}
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, &pkgerrors.ValidationError{Fields: []pkgerrors.FieldError{intParsing("id")}}
	}
	return id, nil
}

// queryInt reads an integer query parameter, falling back to def when absent.
func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func intParsing(field string) pkgerrors.FieldError {
	return pkgerrors.FieldError{Field: field, Message: "must be a valid integer", Type: "int_parsing"}
}

// decodeBody binds a JSON object body into dst and reports decoder
// failures as 422 field errors.
func decodeBody(c *gin.Context, dst any) error {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	switch {
	case c.Request.Body == nil || errors.Is(err, io.EOF):
		return pkgerrors.NewValidationError("body", "is required", "missing")
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return pkgerrors.NewValidationError(field, "has an invalid type", "type_error")
	default:
		return pkgerrors.NewValidationError("body", "is not valid JSON", "json_invalid")
	}
}

// parseIfMatch accepts `"3"`, `W/"3"`, `3` or `*`. Zero means unconditional.
func parseIfMatch(header string) (int64, error) {
	tag := strings.TrimSpace(header)
	if tag == "" || tag == "*" {
		return 0, nil
	}

	tag = strings.TrimPrefix(tag, "W/")
	tag = strings.Trim(tag, `"`)

	version, err := strconv.ParseInt(tag, 10, 64)
	if err != nil || version <= 0 {
		return 0, pkgerrors.NewPreconditionFailedError(user.MsgVersionMismatch)
	}
	return version, nil
}
