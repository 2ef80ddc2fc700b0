package database

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProxyRepository provides database operations for ProxyServer
type ProxyRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewProxyRepository creates a new proxy repository
func NewProxyRepository(db *DB) *ProxyRepository {
	return &ProxyRepository{
		db:     db.DB,
		logger: db.logger,
	}
}

// Save inserts or replaces a proxy instance
func (r *ProxyRepository) Save(ctx context.Context, proxy *models.ProxyServer) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(proxy)
	if result.Error != nil {
		r.logger.ErrorContext(ctx, "Failed to save proxy in database", "id", proxy.ID, "error", result.Error)
		return result.Error
	}
	r.logger.DebugContext(ctx, "Proxy saved in database", "id", proxy.ID, "name", proxy.Name)
	return nil
}

// FindByID retrieves a proxy by its ID
func (r *ProxyRepository) FindByID(ctx context.Context, id string) (*models.ProxyServer, error) {
	var proxy models.ProxyServer
	result := r.db.WithContext(ctx).First(&proxy, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to find proxy by ID", "id", id, "error", result.Error)
		return nil, result.Error
	}
	return &proxy, nil
}

// FindAll retrieves all proxies
func (r *ProxyRepository) FindAll(ctx context.Context) ([]*models.ProxyServer, error) {
	var proxies []*models.ProxyServer
	result := r.db.WithContext(ctx).Order("id").Find(&proxies)
	if result.Error != nil {
		r.logger.ErrorContext(ctx, "Failed to find all proxies", "error", result.Error)
		return nil, result.Error
	}
	return proxies, nil
}
