package services

import (
	"testing"
	"time"

	"github.com/drivebox/backend/internal/models"
)

// waitFor polls until check passes or the deadline expires. The audit queue
// is drained by a background goroutine, so assertions have to wait for it.
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

func TestAuditLogAsync(t *testing.T) {
	db := setupTestDB(t)
	audit := NewAuditService(db, nil, 100)

	actor := createUser(t, db, "actor@example.com", models.UserRoleUser)
	grantee := createUser(t, db, "grantee@example.com", models.UserRoleUser)

	t.Run("persists the audit row and a self activity", func(t *testing.T) {
		audit.LogAsync(AuditEntry{
			UserID:       &actor.ID,
			Action:       "folder.create",
			ResourceKind: "folder",
			Details:      map[string]interface{}{"folder_name": "docs"},
			IPAddress:    "127.0.0.1",
		})

		waitFor(t, func() bool {
			var count int64
			db.Model(&models.AuditLog{}).Where("action = ?", "folder.create").Count(&count)
			return count == 1
		})

		var activity models.Activity
		waitFor(t, func() bool {
			return db.First(&activity, "action = ? AND user_id = ?", "folder.create", actor.ID).Error == nil
		})
		if activity.Message != `You created folder "docs"` {
			t.Errorf("unexpected message: %q", activity.Message)
		}
	})

	t.Run("sharing notifies the grantee", func(t *testing.T) {
		audit.LogAsync(AuditEntry{
			UserID:       &actor.ID,
			Action:       "grant.create",
			ResourceKind: "folder",
			Details: map[string]interface{}{
				"grantee_user_id": grantee.ID.String(),
				"resource_name":   "Reports",
			},
			IPAddress: "127.0.0.1",
		})

		var activity models.Activity
		waitFor(t, func() bool {
			return db.First(&activity, "action = ? AND user_id = ?", "grant.create", grantee.ID).Error == nil
		})
		if activity.ActorID != actor.ID {
			t.Error("expected the sharer recorded as actor")
		}
		if activity.Message != `Test User shared "Reports" with you` {
			t.Errorf("unexpected message: %q", activity.Message)
		}
	})
}

func TestAuditExport(t *testing.T) {
	db := setupTestDB(t)
	store := newMemBlobStore()
	audit := NewAuditService(db, store, 100)

	actor := createUser(t, db, "actor@example.com", models.UserRoleUser)

	audit.LogAsync(AuditEntry{
		UserID:       &actor.ID,
		Action:       "user.login",
		ResourceKind: "user",
		IPAddress:    "127.0.0.1",
	})
	waitFor(t, func() bool {
		var count int64
		db.Model(&models.AuditLog{}).Count(&count)
		return count == 1
	})

	audit.export()

	t.Run("ships rows as NDJSON", func(t *testing.T) {
		store.mu.Lock()
		keys := make([]string, 0, len(store.objects))
		for key := range store.objects {
			keys = append(keys, key)
		}
		store.mu.Unlock()

		if len(keys) != 1 {
			t.Fatalf("expected 1 exported object, got %d", len(keys))
		}
	})

	t.Run("advances the cursor", func(t *testing.T) {
		var cursor models.AuditExportCursor
		if err := db.First(&cursor).Error; err != nil {
			t.Fatalf("cursor not found: %v", err)
		}
		if cursor.ExportedCount != 1 {
			t.Errorf("expected exported count 1, got %d", cursor.ExportedCount)
		}
	})

	t.Run("repeat export ships nothing new", func(t *testing.T) {
		audit.export()

		store.mu.Lock()
		objectCount := len(store.objects)
		store.mu.Unlock()
		if objectCount != 1 {
			t.Errorf("expected no new export objects, got %d", objectCount)
		}
	})
}
