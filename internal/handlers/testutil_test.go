package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/database"
	"github.com/drivebox/backend/internal/middleware"
	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/internal/services"
	"github.com/drivebox/backend/pkg/utils"
)

// memBlobStore keeps uploaded blobs in memory so handler tests can run
// without object storage.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}}
}

func (m *memBlobStore) Upload(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = data
	return nil
}

func (m *memBlobStore) Download(_ context.Context, objectName string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectName]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobStore) Delete(_ context.Context, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectName)
	return nil
}

func (m *memBlobStore) PresignedGetURL(_ context.Context, objectName string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[objectName]; !ok {
		return "", gorm.ErrRecordNotFound
	}
	return "https://blobs.test/" + objectName + "?sig=stub", nil
}

func (m *memBlobStore) has(objectName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[objectName]
	return ok
}

type testEnv struct {
	App   *fiber.App
	DB    *gorm.DB
	Store *memBlobStore
	Tree  *services.TreeService
}

// setupTestEnv wires the full route table against an in-memory database,
// mirroring the production wiring.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	utils.ConfigureJWT("test-secret", 24)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating schema: %v", err)
	}

	store := newMemBlobStore()

	treeService := services.NewTreeService(db)
	grantService := services.NewGrantService(db)
	accessService := services.NewAccessService(db, grantService)
	fileService := services.NewFileService(db, store, grantService)
	auditService := services.NewAuditService(db, store, 100)

	authHandler := NewAuthHandler(db, auditService)
	usersHandler := NewUsersHandler(db)
	foldersHandler := NewFoldersHandler(db, treeService, accessService, fileService, grantService, auditService)
	filesHandler := NewFilesHandler(db, treeService, accessService, fileService, auditService)
	grantsHandler := NewGrantsHandler(db, treeService, fileService, accessService, grantService, auditService)
	activitiesHandler := NewActivitiesHandler(db)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New()
	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	api.Get("/users/search", authMiddleware.RequireAuth, usersHandler.Search)
	api.Get("/users", authMiddleware.RequireAuth, middleware.AdminOnly, usersHandler.List)

	folderRoutes := api.Group("/folders")
	folderRoutes.Get("/home", authMiddleware.RequireAuth, foldersHandler.Home)
	folderRoutes.Get("/choices", authMiddleware.RequireAuth, foldersHandler.Choices)
	folderRoutes.Post("/", authMiddleware.RequireAuth, foldersHandler.Create)
	folderRoutes.Get("/:slug", authMiddleware.OptionalAuth, foldersHandler.Get)
	folderRoutes.Get("/:slug/path", authMiddleware.OptionalAuth, foldersHandler.Path)
	folderRoutes.Put("/:slug", authMiddleware.RequireAuth, foldersHandler.Update)
	folderRoutes.Delete("/:slug", authMiddleware.RequireAuth, foldersHandler.Delete)
	folderRoutes.Post("/:slug/share", authMiddleware.RequireAuth, grantsHandler.ShareFolder)
	folderRoutes.Get("/:slug/shares", authMiddleware.RequireAuth, grantsHandler.ListFolderGrants)

	fileRoutes := api.Group("/files")
	fileRoutes.Post("/upload", authMiddleware.RequireAuth, filesHandler.Upload)
	fileRoutes.Get("/:slug", authMiddleware.OptionalAuth, filesHandler.Get)
	fileRoutes.Get("/:slug/download", authMiddleware.OptionalAuth, filesHandler.Download)
	fileRoutes.Get("/:slug/download-url", authMiddleware.OptionalAuth, filesHandler.DownloadURL)
	fileRoutes.Put("/:slug", authMiddleware.RequireAuth, filesHandler.Update)
	fileRoutes.Delete("/:slug", authMiddleware.RequireAuth, filesHandler.Delete)
	fileRoutes.Post("/:slug/share", authMiddleware.RequireAuth, grantsHandler.ShareFile)
	fileRoutes.Get("/:slug/shares", authMiddleware.RequireAuth, grantsHandler.ListFileGrants)

	api.Delete("/shares/:id", authMiddleware.RequireAuth, grantsHandler.Revoke)

	activityRoutes := api.Group("/activities")
	activityRoutes.Get("/", authMiddleware.RequireAuth, activitiesHandler.List)
	activityRoutes.Get("/unread-count", authMiddleware.RequireAuth, activitiesHandler.UnreadCount)
	activityRoutes.Put("/read-all", authMiddleware.RequireAuth, activitiesHandler.MarkAllRead)
	activityRoutes.Put("/:id/read", authMiddleware.RequireAuth, activitiesHandler.MarkRead)

	return &testEnv{App: app, DB: db, Store: store, Tree: treeService}
}

// waitFor polls until check passes, for asserting on writes made by the
// async audit pipeline.
func waitFor(t *testing.T, check func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func createTestUser(t *testing.T, db *gorm.DB, email string, role models.UserRole) *models.User {
	t.Helper()

	hash, err := utils.HashPassword("password123")
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}
	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", email, err)
	}
	return user
}

func authHeader(t *testing.T, user *models.User) string {
	t.Helper()

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating token: %v", err)
	}
	return "Bearer " + token
}

func jsonRequest(t *testing.T, method, path string, body interface{}, user *models.User) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed marshaling body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", authHeader(t, user))
	}
	return req
}

func multipartUploadRequest(t *testing.T, user *models.User, folderID, filename, content string, extra map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed writing form file: %v", err)
	}
	if err := writer.WriteField("folderID", folderID); err != nil {
		t.Fatalf("failed writing folderID field: %v", err)
	}
	for key, value := range extra {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed writing %s field: %v", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if user != nil {
		req.Header.Set("Authorization", authHeader(t, user))
	}
	return req
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", req.Method, req.URL.Path, err)
	}
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()

	defer resp.Body.Close()
	var envelope map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed decoding response body: %v", err)
	}
	return envelope
}

func dataField(t *testing.T, envelope map[string]interface{}) map[string]interface{} {
	t.Helper()

	data, ok := envelope["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected object data field, got %T", envelope["data"])
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()

	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// homeFolder provisions the user's root through the API and returns its
// slug and id.
func homeFolder(t *testing.T, env *testEnv, user *models.User) (slug, id string) {
	t.Helper()

	resp := doRequest(t, env.App, jsonRequest(t, http.MethodGet, "/api/folders/home", nil, user))
	assertStatus(t, resp, http.StatusOK)
	data := dataField(t, decodeEnvelope(t, resp))
	slug, _ = data["slug"].(string)
	id, _ = data["id"].(string)
	if slug == "" || id == "" {
		t.Fatalf("home folder missing slug or id: %v", data)
	}
	return slug, id
}

func createFolderViaAPI(t *testing.T, env *testEnv, user *models.User, parentID, name string) (slug, id string) {
	t.Helper()

	resp := doRequest(t, env.App, jsonRequest(t, http.MethodPost, "/api/folders/", map[string]interface{}{
		"parentID": parentID,
		"name":     name,
	}, user))
	assertStatus(t, resp, http.StatusCreated)
	data := dataField(t, decodeEnvelope(t, resp))
	slug, _ = data["slug"].(string)
	id, _ = data["id"].(string)
	if slug == "" || id == "" {
		t.Fatalf("created folder missing slug or id: %v", data)
	}
	return slug, id
}

func uploadFileViaAPI(t *testing.T, env *testEnv, user *models.User, folderID, filename, content string) (slug, id string) {
	t.Helper()

	resp := doRequest(t, env.App, multipartUploadRequest(t, user, folderID, filename, content, nil))
	assertStatus(t, resp, http.StatusCreated)
	data := dataField(t, decodeEnvelope(t, resp))
	slug, _ = data["slug"].(string)
	id, _ = data["id"].(string)
	if slug == "" || id == "" {
		t.Fatalf("uploaded file missing slug or id: %v", data)
	}
	return slug, id
}
