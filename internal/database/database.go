package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// DB wraps the GORM database connection
type DB struct {
	*gorm.DB
	logger *slog.Logger
}

// New creates a new database connection
func New(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		if cfg.URL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
		dialector = postgres.Open(cfg.URL)
	default:
		// Ensure the directory exists
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dialector = sqlite.Open(cfg.Path)
	}

	// Configure GORM logger to be quiet (we use slog instead)
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("Database connection established", "driver", dialector.Name())

	if err := db.AutoMigrate(&models.MinecraftServer{}, &models.ProxyServer{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate schemas: %w", err)
	}

	log.Info("Database schemas migrated successfully")

	return &DB{
		DB:     db,
		logger: log,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ServerRepository provides owner-scoped database operations for MinecraftServer
type ServerRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewServerRepository creates a new server repository
func NewServerRepository(db *DB) *ServerRepository {
	return &ServerRepository{
		db:     db.DB,
		logger: db.logger,
	}
}

// Create inserts a new server into the database
func (r *ServerRepository) Create(ctx context.Context, server *models.MinecraftServer) error {
	result := r.db.WithContext(ctx).Create(server)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		r.logger.WarnContext(ctx, "Server record conflicts with an existing one", "unique_id", server.UniqueID, "error", result.Error)
		return apperror.Conflict("server %s conflicts with an existing unique id, port or subdomain", server.UniqueID)
	}
	if result.Error != nil {
		r.logger.ErrorContext(ctx, "Failed to create server in database", "error", result.Error)
		return result.Error
	}
	r.logger.DebugContext(ctx, "Server created in database", "unique_id", server.UniqueID, "owner", server.Owner)
	return nil
}

// FindByUniqueID retrieves an owner's server by its unique ID
func (r *ServerRepository) FindByUniqueID(ctx context.Context, owner, uniqueID string) (*models.MinecraftServer, error) {
	var server models.MinecraftServer
	result := r.db.WithContext(ctx).First(&server, "owner = ? AND unique_id = ?", owner, uniqueID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to find server by unique ID", "unique_id", uniqueID, "error", result.Error)
		return nil, result.Error
	}
	return &server, nil
}

// FindByAlias retrieves an owner's servers whose subdomain or name equals alias
func (r *ServerRepository) FindByAlias(ctx context.Context, owner, alias string) ([]*models.MinecraftServer, error) {
	var servers []*models.MinecraftServer
	result := r.db.WithContext(ctx).
		Where("owner = ? AND (subdomain_name = ? OR server_name = ?)", owner, alias, alias).
		Find(&servers)
	if result.Error != nil {
		r.logger.ErrorContext(ctx, "Failed to find server by alias", "alias", alias, "error", result.Error)
		return nil, result.Error
	}
	return servers, nil
}

// FindAllByOwner retrieves all servers of an owner
func (r *ServerRepository) FindAllByOwner(ctx context.Context, owner string) ([]*models.MinecraftServer, error) {
	var servers []*models.MinecraftServer
	result := r.db.WithContext(ctx).Where("owner = ?", owner).Order("created_at").Find(&servers)
	if result.Error != nil {
		r.logger.ErrorContext(ctx, "Failed to find servers", "owner", owner, "error", result.Error)
		return nil, result.Error
	}
	return servers, nil
}

// FindByProxyID retrieves all servers attached to a proxy, regardless of owner
func (r *ServerRepository) FindByProxyID(ctx context.Context, proxyID string) ([]*models.MinecraftServer, error) {
	var servers []*models.MinecraftServer
	result := r.db.WithContext(ctx).Where("proxy_id = ?", proxyID).Order("created_at").Find(&servers)
	if result.Error != nil {
		r.logger.ErrorContext(ctx, "Failed to find servers by proxy", "proxy_id", proxyID, "error", result.Error)
		return nil, result.Error
	}
	return servers, nil
}

// UniqueIDExists reports whether any owner has a server with uniqueID
func (r *ServerRepository) UniqueIDExists(ctx context.Context, uniqueID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MinecraftServer{}).Where("unique_id = ?", uniqueID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SubdomainExists reports whether any owner already uses subdomain
func (r *ServerRepository) SubdomainExists(ctx context.Context, subdomain string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MinecraftServer{}).Where("subdomain_name = ?", subdomain).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Count returns the number of server records of every owner
func (r *ServerRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MinecraftServer{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count servers: %w", err)
	}
	return count, nil
}

// UsedPorts returns every port allocated to a server
func (r *ServerRepository) UsedPorts(ctx context.Context) ([]int, error) {
	var ports []int
	if err := r.db.WithContext(ctx).Model(&models.MinecraftServer{}).Pluck("port", &ports).Error; err != nil {
		return nil, err
	}
	return ports, nil
}

// UpdateFields writes only the non-nil fields of a server record
func (r *ServerRepository) UpdateFields(ctx context.Context, uniqueID string, fields models.ServerFields) error {
	updates := map[string]any{}
	if fields.IsOnline != nil {
		updates["is_online"] = *fields.IsOnline
	}
	if fields.ContainerID != nil {
		updates["container_id"] = *fields.ContainerID
	}
	if fields.ProxyID != nil {
		updates["proxy_id"] = *fields.ProxyID
	}
	if c := fields.ServerConfig; c != nil {
		updates["cfg_version"] = c.Version
		updates["cfg_type"] = c.Type
		updates["cfg_difficulty"] = c.Difficulty
		updates["cfg_game_mode"] = c.GameMode
		updates["cfg_max_players"] = c.MaxPlayers
		updates["cfg_motd"] = c.MOTD
		updates["cfg_memory"] = c.Memory
		updates["cfg_online_mode"] = c.OnlineMode
		updates["cfg_pvp"] = c.PVP
		updates["cfg_hardcore"] = c.Hardcore
		updates["cfg_whitelist"] = c.Whitelist
	}
	if len(updates) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&models.MinecraftServer{}).Where("unique_id = ?", uniqueID).Updates(updates)
	if result.Error != nil {
		r.logger.ErrorContext(ctx, "Failed to update server", "unique_id", uniqueID, "error", result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	r.logger.DebugContext(ctx, "Server updated in database", "unique_id", uniqueID, "fields", len(updates))
	return nil
}

// Delete permanently removes a server from the database
func (r *ServerRepository) Delete(ctx context.Context, uniqueID string) error {
	result := r.db.WithContext(ctx).Delete(&models.MinecraftServer{}, "unique_id = ?", uniqueID)
	if result.Error != nil {
		r.logger.ErrorContext(ctx, "Failed to delete server", "unique_id", uniqueID, "error", result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	r.logger.DebugContext(ctx, "Server deleted from database", "unique_id", uniqueID)
	return nil
}
