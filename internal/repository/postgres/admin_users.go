package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/repository"

	"gorm.io/gorm"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListAdminUsers 新注册的排在前面；search 对 email / full_name 做不区分大小写的包含匹配
func (r *IdentityRepository) ListAdminUsers(ctx context.Context, filter model.AdminUserFilter) (_ []model.AdminUser, err error) {
	ctx, span, start := startSpan(ctx, "list_admin_users")
	defer func() { endSpan(span, "list_admin_users", start, err) }()
	q := r.db.WithContext(ctx).Model(&model.AdminUser{})
	if filter.ApprovalStatus != "" {
		q = q.Where("approval_status = ?", filter.ApprovalStatus)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.Search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(filter.Search)) + "%"
		q = q.Where(`(LOWER(email) LIKE ? ESCAPE '\' OR LOWER(COALESCE(full_name, '')) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	users := []model.AdminUser{}
	if err = q.Order("created_at DESC").Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list admin users: %w", err)
	}
	return users, nil
}

func (r *IdentityRepository) ApproveAdminUser(ctx context.Context, id string) (_ *model.AdminUser, err error) {
	ctx, span, start := startSpan(ctx, "approve_admin_user")
	defer func() { endSpan(span, "approve_admin_user", start, err) }()
	return r.review(ctx, id, map[string]any{
		"approval_status":  model.ApprovalApproved,
		"approved_at":      time.Now().UTC(),
		"approved_by":      actorID(ctx),
		"rejection_reason": nil,
	})
}

func (r *IdentityRepository) RejectAdminUser(ctx context.Context, id string, reason *string) (_ *model.AdminUser, err error) {
	ctx, span, start := startSpan(ctx, "reject_admin_user")
	defer func() { endSpan(span, "reject_admin_user", start, err) }()
	return r.review(ctx, id, map[string]any{
		"approval_status":  model.ApprovalRejected,
		"approved_at":      nil,
		"approved_by":      nil,
		"rejection_reason": reason,
	})
}

// review 审批结果写入 admin_users 并返回更新后的行
func (r *IdentityRepository) review(ctx context.Context, id string, fields map[string]any) (*model.AdminUser, error) {
	var u model.AdminUser
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&u, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Model(&u).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&u, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("review admin user %s: %w", id, err)
	}
	return &u, nil
}
