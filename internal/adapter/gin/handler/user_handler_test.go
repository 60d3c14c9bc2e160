package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	usecase "user-directory-service/internal/usecase/user"
	pkgerrors "user-directory-service/pkg/errors"
)

// MockUserUsecase is a mock implementation of user.UserUsecase
type MockUserUsecase struct {
	mock.Mock
}

func (m *MockUserUsecase) CreateUser(ctx context.Context, req usecase.CreateUserRequest) (*usecase.User, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.User), args.Error(1)
}

func (m *MockUserUsecase) GetUser(ctx context.Context, req usecase.GetUserRequest) (*usecase.User, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.User), args.Error(1)
}

func (m *MockUserUsecase) UpdateUser(ctx context.Context, req usecase.UpdateUserRequest) (*usecase.User, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.User), args.Error(1)
}

func (m *MockUserUsecase) DeleteUser(ctx context.Context, req usecase.DeleteUserRequest) (*usecase.User, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.User), args.Error(1)
}

func (m *MockUserUsecase) ListUsers(ctx context.Context, req usecase.ListUsersRequest) (*usecase.ListUsersResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.ListUsersResponse), args.Error(1)
}

func setupTest(t *testing.T) (*gin.Engine, *MockUserUsecase) {
	gin.SetMode(gin.TestMode)
	mockUsecase := new(MockUserUsecase)
	h := NewUserHandler(mockUsecase, zaptest.NewLogger(t))
	t.Cleanup(func() { mockUsecase.AssertExpectations(t) })

	r := gin.New()
	r.POST("/users/", h.CreateUser)
	r.GET("/users/", h.ListUsers)
	r.GET("/users/:id", h.GetUser)
	r.PUT("/users/:id", h.UpdateUser)
	r.DELETE("/users/:id", h.DeleteUser)
	return r, mockUsecase
}

func do(r http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["detail"]
}

func TestCreateUser(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("CreateUser", mock.Anything, usecase.CreateUserRequest{Name: "John Doe", Email: "john@example.com"}).
			Return(&usecase.User{ID: 1, Name: "John Doe", Email: "john@example.com", Version: 1}, nil)

		w := do(r, http.MethodPost, "/users/", `{"name":"John Doe","email":"john@example.com"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":1,"name":"John Doe","email":"john@example.com"}`, w.Body.String())
		assert.Equal(t, `"1"`, w.Header().Get("ETag"))
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		r, _ := setupTest(t)

		w := do(r, http.MethodPost, "/users/", "invalid json")

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"detail":[{"field":"body","message":"is not valid JSON","type":"json_invalid"}]}`, w.Body.String())
	})

	t.Run("Wrong Type", func(t *testing.T) {
		r, _ := setupTest(t)

		w := do(r, http.MethodPost, "/users/", `{"name":123,"email":"a@example.com"}`)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"detail":[{"field":"name","message":"has an invalid type","type":"type_error"}]}`, w.Body.String())
	})

	t.Run("Missing Body", func(t *testing.T) {
		r, _ := setupTest(t)

		w := do(r, http.MethodPost, "/users/", "")

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("Validation Error", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("CreateUser", mock.Anything, usecase.CreateUserRequest{Email: "a@example.com"}).
			Return(nil, pkgerrors.NewValidationError("name", "is required", "required"))

		w := do(r, http.MethodPost, "/users/", `{"email":"a@example.com"}`)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"detail":[{"field":"name","message":"is required","type":"required"}]}`, w.Body.String())
	})

	t.Run("Duplicate Email", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("CreateUser", mock.Anything, mock.Anything).
			Return(nil, pkgerrors.NewAlreadyExistsError("user", usecase.MsgEmailTaken))

		w := do(r, http.MethodPost, "/users/", `{"name":"A","email":"a@example.com"}`)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, usecase.MsgEmailTaken, decodeDetail(t, w))
	})

	t.Run("Internal Error Is Masked", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("CreateUser", mock.Anything, mock.Anything).
			Return(nil, pkgerrors.NewInternalError("failed to create user", errors.New("disk I/O error")))

		w := do(r, http.MethodPost, "/users/", `{"name":"A","email":"a@example.com"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, usecase.MsgInternalError, decodeDetail(t, w))
		assert.NotContains(t, w.Body.String(), "disk")
	})

	t.Run("Store Unavailable", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("CreateUser", mock.Anything, mock.Anything).
			Return(nil, pkgerrors.NewUnavailableError("store unavailable", errors.New("pool exhausted")))

		w := do(r, http.MethodPost, "/users/", `{"name":"A","email":"a@example.com"}`)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, usecase.MsgStoreUnavailable, decodeDetail(t, w))
	})
}

func TestGetUser(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("GetUser", mock.Anything, usecase.GetUserRequest{ID: 1}).
			Return(&usecase.User{ID: 1, Name: "John", Email: "john@example.com", Version: 4}, nil)

		w := do(r, http.MethodGet, "/users/1", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":1,"name":"John","email":"john@example.com"}`, w.Body.String())
		assert.Equal(t, `"4"`, w.Header().Get("ETag"))
	})

	t.Run("Not Found", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("GetUser", mock.Anything, usecase.GetUserRequest{ID: 999}).
			Return(nil, pkgerrors.NewNotFoundError("user", usecase.MsgUserNotFound))

		w := do(r, http.MethodGet, "/users/999", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"detail":"User not found"}`, w.Body.String())
	})

	t.Run("Invalid ID", func(t *testing.T) {
		r, _ := setupTest(t)

		w := do(r, http.MethodGet, "/users/abc", "")

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"detail":[{"field":"id","message":"must be a valid integer","type":"int_parsing"}]}`, w.Body.String())
	})
}

func TestUpdateUser(t *testing.T) {
	t.Run("Partial", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("UpdateUser", mock.Anything, mock.MatchedBy(func(req usecase.UpdateUserRequest) bool {
			return req.ID == 1 && req.Name != nil && *req.Name == "Jane" && req.Email == nil && req.IfMatch == 0
		})).Return(&usecase.User{ID: 1, Name: "Jane", Email: "john@example.com", Version: 2}, nil)

		w := do(r, http.MethodPut, "/users/1", `{"name":"Jane"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":1,"name":"Jane","email":"john@example.com"}`, w.Body.String())
		assert.Equal(t, `"2"`, w.Header().Get("ETag"))
	})

	t.Run("Null Fields Are Ignored", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("UpdateUser", mock.Anything, mock.MatchedBy(func(req usecase.UpdateUserRequest) bool {
			return req.Name == nil && req.Email == nil
		})).Return(&usecase.User{ID: 1, Name: "John", Email: "john@example.com", Version: 1}, nil)

		w := do(r, http.MethodPut, "/users/1", `{"name":null}`)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("If-Match Forwarded", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("UpdateUser", mock.Anything, mock.MatchedBy(func(req usecase.UpdateUserRequest) bool {
			return req.IfMatch == 3
		})).Return(nil, pkgerrors.NewPreconditionFailedError(usecase.MsgVersionMismatch))

		w := do(r, http.MethodPut, "/users/1", `{"name":"Jane"}`, "If-Match", `W/"3"`)

		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
		assert.Equal(t, usecase.MsgVersionMismatch, decodeDetail(t, w))
	})

	t.Run("Malformed If-Match", func(t *testing.T) {
		r, _ := setupTest(t)

		w := do(r, http.MethodPut, "/users/1", `{"name":"Jane"}`, "If-Match", `"abc"`)

		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	})

	t.Run("Concurrent Modification", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("UpdateUser", mock.Anything, mock.Anything).
			Return(nil, pkgerrors.NewConflictError(usecase.MsgConcurrentUpdate))

		w := do(r, http.MethodPut, "/users/1", `{"email":"x@example.com"}`)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, usecase.MsgConcurrentUpdate, decodeDetail(t, w))
	})

	t.Run("Not Found", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("UpdateUser", mock.Anything, mock.Anything).
			Return(nil, pkgerrors.NewNotFoundError("user", usecase.MsgUserNotFound))

		w := do(r, http.MethodPut, "/users/5", `{"name":"x"}`)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"detail":"User not found"}`, w.Body.String())
	})
}

func TestDeleteUser(t *testing.T) {
	t.Run("Returns Snapshot", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("DeleteUser", mock.Anything, usecase.DeleteUserRequest{ID: 1}).
			Return(&usecase.User{ID: 1, Name: "John", Email: "john@example.com", Version: 2}, nil)

		w := do(r, http.MethodDelete, "/users/1", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":1,"name":"John","email":"john@example.com"}`, w.Body.String())
	})

	t.Run("Star If-Match Is Unconditional", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("DeleteUser", mock.Anything, usecase.DeleteUserRequest{ID: 1}).
			Return(&usecase.User{ID: 1, Name: "John", Email: "john@example.com", Version: 2}, nil)

		w := do(r, http.MethodDelete, "/users/1", "", "If-Match", "*")

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Not Found", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("DeleteUser", mock.Anything, usecase.DeleteUserRequest{ID: 2}).
			Return(nil, pkgerrors.NewNotFoundError("user", usecase.MsgUserNotFound))

		w := do(r, http.MethodDelete, "/users/2", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"detail":"User not found"}`, w.Body.String())
	})
}

func TestListUsers(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("ListUsers", mock.Anything, usecase.ListUsersRequest{}).
			Return(&usecase.ListUsersResponse{
				Users: []usecase.User{
					{ID: 1, Name: "A", Email: "a@example.com"},
					{ID: 2, Name: "B", Email: "b@example.com"},
				},
				Limit: 10,
			}, nil)

		w := do(r, http.MethodGet, "/users/", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[{"id":1,"name":"A","email":"a@example.com"},{"id":2,"name":"B","email":"b@example.com"}]`, w.Body.String())
	})

	t.Run("Empty Is Array", func(t *testing.T) {
		r, mockUsecase := setupTest(t)

		mockUsecase.On("ListUsers", mock.Anything, usecase.ListUsersRequest{Skip: 5, Limit: 2, Name: "ali"}).
			Return(&usecase.ListUsersResponse{Users: []usecase.User{}, Skip: 5, Limit: 2}, nil)

		w := do(r, http.MethodGet, "/users/?skip=5&limit=2&name=ali", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("Bad Query", func(t *testing.T) {
		r, _ := setupTest(t)

		w := do(r, http.MethodGet, "/users/?skip=x&limit=0", "")

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		detail, ok := decodeDetail(t, w).([]any)
		require.True(t, ok)
		assert.Len(t, detail, 2)
	})
}

func TestParseIfMatch(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{header: "", want: 0},
		{header: "*", want: 0},
		{header: `"7"`, want: 7},
		{header: `W/"7"`, want: 7},
		{header: "7", want: 7},
		{header: `"0"`, wantErr: true},
		{header: `"v7"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := parseIfMatch(tt.header)
			if tt.wantErr {
				var preconditionErr *pkgerrors.PreconditionFailedError
				assert.ErrorAs(t, err, &preconditionErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		body     string
		nilBody  bool
		wantType string
		field    string
	}{
		{name: "object", body: `{"name":"Ann","email":"ann@example.com"}`},
		{name: "empty", body: "", wantType: "missing", field: "body"},
		{name: "no body", nilBody: true, wantType: "missing", field: "body"},
		{name: "wrong type", body: `{"name":1}`, wantType: "type_error", field: "name"},
		{name: "not an object", body: `[1]`, wantType: "type_error", field: "body"},
		{name: "malformed", body: `{bad`, wantType: "json_invalid", field: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodPost, "/users/", bytes.NewBufferString(tt.body))
			if tt.nilBody {
				c.Request.Body = nil
			}

			var req CreateUserRequest
			err := decodeBody(c, &req)
			if tt.wantType == "" {
				require.NoError(t, err)
				assert.Equal(t, CreateUserRequest{Name: "Ann", Email: "ann@example.com"}, req)
				return
			}

			var validationErr *pkgerrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Len(t, validationErr.Fields, 1)
			assert.Equal(t, tt.wantType, validationErr.Fields[0].Type)
			assert.Equal(t, tt.field, validationErr.Fields[0].Field)
		})
	}
}
