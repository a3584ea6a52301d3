package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebox/backend/internal/models"
	"github.com/drivebox/backend/internal/storage"
	"github.com/drivebox/backend/pkg/logger"
)

type AuditEntry struct {
	UserID       *uuid.UUID
	Action       string
	ResourceKind string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
	RequestID    string
}

// AuditService writes the audit trail and per-user activity feed off the
// request path. Inserts go through a bounded queue; a full queue drops the
// entry with a warning rather than blocking a request.
type AuditService struct {
	DB      *gorm.DB
	Storage storage.BlobStore
	queue   chan models.AuditLog
}

func NewAuditService(db *gorm.DB, store storage.BlobStore, queueSize int) *AuditService {
	if queueSize <= 0 {
		queueSize = 1000
	}
	s := &AuditService{
		DB:      db,
		Storage: store,
		queue:   make(chan models.AuditLog, queueSize),
	}
	go s.processQueue()
	return s
}

func (s *AuditService) LogAsync(entry AuditEntry) {
	row := models.AuditLog{
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceKind: entry.ResourceKind,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		IPAddress:    entry.IPAddress,
		RequestID:    entry.RequestID,
		CreatedAt:    time.Now().UTC(),
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("audit_log_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
			continue
		}
		s.generateActivities(row)
	}
}

func (s *AuditService) generateActivities(log models.AuditLog) {
	if log.UserID == nil {
		return
	}

	var otherActivities []models.Activity

	switch log.Action {
	case "grant.create":
		otherActivities = s.activitiesForGrantCreate(log)
	case "grant.revoke":
		otherActivities = s.activitiesForGrantRevoke(log)
	}

	for i := range otherActivities {
		if otherActivities[i].UserID == *log.UserID {
			continue
		}
		if err := s.DB.Create(&otherActivities[i]).Error; err != nil {
			logger.Error("activity_insert_failed", err, map[string]interface{}{
				"action":  log.Action,
				"user_id": otherActivities[i].UserID.String(),
			})
		}
	}

	selfActivity := s.selfActivityForAction(log)
	if selfActivity != nil {
		if err := s.DB.Create(selfActivity).Error; err != nil {
			logger.Error("self_activity_insert_failed", err, map[string]interface{}{
				"action": log.Action,
			})
		}
	}
}

func (s *AuditService) selfActivityForAction(log models.AuditLog) *models.Activity {
	if log.UserID == nil {
		return nil
	}

	resourceName := detailString(log.Details, "file_name")
	if resourceName == "" {
		resourceName = detailString(log.Details, "folder_name")
	}
	if resourceName == "" {
		resourceName = detailString(log.Details, "resource_name")
	}

	var message string
	switch log.Action {
	case "file.upload":
		message = fmt.Sprintf("You uploaded \"%s\"", resourceName)
	case "file.update":
		message = fmt.Sprintf("You updated \"%s\"", resourceName)
	case "file.delete":
		message = fmt.Sprintf("You deleted \"%s\"", resourceName)
	case "folder.create":
		message = fmt.Sprintf("You created folder \"%s\"", resourceName)
	case "folder.update":
		message = fmt.Sprintf("You updated folder \"%s\"", resourceName)
	case "folder.delete":
		message = fmt.Sprintf("You deleted folder \"%s\"", resourceName)
	case "grant.create":
		message = fmt.Sprintf("You shared \"%s\"", resourceName)
	case "grant.revoke":
		message = fmt.Sprintf("You revoked sharing on \"%s\"", resourceName)
	default:
		return nil
	}

	return &models.Activity{
		UserID:       *log.UserID,
		ActorID:      *log.UserID,
		Action:       log.Action,
		ResourceKind: log.ResourceKind,
		ResourceID:   log.ResourceID,
		ResourceName: resourceName,
		Message:      message,
	}
}

func (s *AuditService) activitiesForGrantCreate(log models.AuditLog) []models.Activity {
	granteeIDStr := detailString(log.Details, "grantee_user_id")
	if granteeIDStr == "" {
		// Everybody grants have no single recipient to notify.
		return nil
	}
	granteeID, err := uuid.Parse(granteeIDStr)
	if err != nil {
		return nil
	}

	resourceName := detailString(log.Details, "resource_name")
	actorName := s.getActorName(*log.UserID)

	return []models.Activity{{
		UserID:       granteeID,
		ActorID:      *log.UserID,
		Action:       log.Action,
		ResourceKind: log.ResourceKind,
		ResourceID:   log.ResourceID,
		ResourceName: resourceName,
		Message:      fmt.Sprintf("%s shared \"%s\" with you", actorName, resourceName),
	}}
}

func (s *AuditService) activitiesForGrantRevoke(log models.AuditLog) []models.Activity {
	granteeIDStr := detailString(log.Details, "grantee_user_id")
	if granteeIDStr == "" {
		return nil
	}
	granteeID, err := uuid.Parse(granteeIDStr)
	if err != nil {
		return nil
	}

	resourceName := detailString(log.Details, "resource_name")
	actorName := s.getActorName(*log.UserID)

	return []models.Activity{{
		UserID:       granteeID,
		ActorID:      *log.UserID,
		Action:       log.Action,
		ResourceKind: log.ResourceKind,
		ResourceID:   log.ResourceID,
		ResourceName: resourceName,
		Message:      fmt.Sprintf("%s revoked your access to \"%s\"", actorName, resourceName),
	}}
}

func (s *AuditService) getActorName(userID uuid.UUID) string {
	var user models.User
	if err := s.DB.Select("first_name", "last_name").First(&user, "id = ?", userID).Error; err != nil {
		return "Someone"
	}
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

// StartExporter runs a background goroutine that periodically exports new
// audit log rows to the blob store as NDJSON files.
func (s *AuditService) StartExporter(interval time.Duration) {
	if s.Storage == nil {
		logger.Info("audit_exporter_disabled", map[string]interface{}{
			"reason": "no storage client configured",
		})
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			s.export()
		}
	}()

	logger.Info("audit_exporter_started", map[string]interface{}{
		"interval": interval.String(),
	})
}

func (s *AuditService) export() {
	var cursor models.AuditExportCursor
	err := s.DB.First(&cursor).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			cursor = models.AuditExportCursor{
				LastExportAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			}
			if createErr := s.DB.Create(&cursor).Error; createErr != nil {
				logger.Error("audit_export_cursor_create_failed", createErr, nil)
				return
			}
		} else {
			logger.Error("audit_export_cursor_load_failed", err, nil)
			return
		}
	}

	var logs []models.AuditLog
	if err := s.DB.Where("created_at > ?", cursor.LastExportAt).
		Order("created_at ASC").
		Limit(10000).
		Find(&logs).Error; err != nil {
		logger.Error("audit_export_query_failed", err, nil)
		return
	}

	if len(logs) == 0 {
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range logs {
		if err := enc.Encode(row); err != nil {
			logger.Error("audit_export_encode_failed", err, map[string]interface{}{
				"log_id": row.ID.String(),
			})
			continue
		}
	}

	now := time.Now().UTC()
	objectName := fmt.Sprintf("audit-logs/%s/%s.ndjson",
		now.Format("2006/01/02"),
		now.Format("15-04-05"),
	)

	if err := s.Storage.Upload(
		context.Background(),
		objectName,
		&buf,
		int64(buf.Len()),
		"application/x-ndjson",
	); err != nil {
		logger.Error("audit_export_upload_failed", err, map[string]interface{}{
			"object_name": objectName,
			"count":       len(logs),
		})
		return
	}

	lastCreatedAt := logs[len(logs)-1].CreatedAt
	s.DB.Model(&cursor).Updates(map[string]interface{}{
		"last_export_at": lastCreatedAt,
		"exported_count": gorm.Expr("exported_count + ?", len(logs)),
	})

	logger.Info("audit_export_success", map[string]interface{}{
		"object_name": objectName,
		"count":       len(logs),
	})
}

func detailString(details map[string]interface{}, key string) string {
	if details == nil {
		return ""
	}
	v, ok := details[key]
	if !ok {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return str
}
