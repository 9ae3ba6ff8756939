package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"robosim-backend/models"
)

// 저장소 오류
var ErrAssetNotFound = errors.New("asset not found")

// DatabaseConfig - 저장소 연결 설정
type DatabaseConfig struct {
	Driver     string // "sqlite" | "mysql"
	SQLitePath string

	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string
}

// AssetStore - 업로드된 맵/프로그램 저장소
type AssetStore struct {
	db *gorm.DB
}

// OpenDatabase - 설정에 맞는 드라이버로 연결 후 마이그레이션
func OpenDatabase(cfg DatabaseConfig) (*AssetStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		if cfg.MySQLHost == "" || cfg.MySQLUser == "" || cfg.MySQLDatabase == "" {
			return nil, fmt.Errorf("MySQL 환경 변수가 모두 설정되지 않았습니다: MYSQL_HOST, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE")
		}
		port := cfg.MySQLPort
		if port == 0 {
			port = 3306 // 기본 포트
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.MySQLUser, cfg.MySQLPassword, cfg.MySQLHost, port, cfg.MySQLDatabase)
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		path := cfg.SQLitePath
		if path == "" {
			path = "robosim.db"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("지원하지 않는 DB 드라이버: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("DB 연결 실패: %w", err)
	}

	store := &AssetStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	log.Printf("✅ DB 연결 및 마이그레이션 완료 (%s)", dialector.Name())
	return store, nil
}

// NewAssetStore - 이미 열린 gorm 연결로 저장소 생성
func NewAssetStore(db *gorm.DB) (*AssetStore, error) {
	store := &AssetStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *AssetStore) migrate() error {
	if err := s.db.AutoMigrate(&models.StoredMap{}, &models.StoredProgram{}); err != nil {
		return fmt.Errorf("마이그레이션 실패: %w", err)
	}
	return nil
}

// DB - GORM 인스턴스 반환
func (s *AssetStore) DB() *gorm.DB {
	return s.db
}

// Close - 연결 종료
func (s *AssetStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveMap - 검증된 맵 파일 저장
func (s *AssetStore) SaveMap(name string, payload []byte, m *models.Map) (*models.StoredMap, error) {
	rec := &models.StoredMap{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Name:      name,
		Payload:   payload,
		Zones:     len(m.CameraZones),
		Lamps:     len(m.Lamps),
		Obstacles: len(m.Obstacles),
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("맵 저장 실패: %w", err)
	}
	return rec, nil
}

// GetMap - ID로 맵 조회
func (s *AssetStore) GetMap(id string) (*models.StoredMap, error) {
	var rec models.StoredMap
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListMaps - 최근 맵 목록 (payload 제외)
func (s *AssetStore) ListMaps(limit int) ([]models.StoredMap, error) {
	var recs []models.StoredMap
	query := s.db.Select("id", "created_at", "name", "zones", "lamps", "obstacles").
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&recs).Error
	return recs, err
}

// SaveProgram - 제어 프로그램 저장
func (s *AssetStore) SaveProgram(name, source string) (*models.StoredProgram, error) {
	rec := &models.StoredProgram{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Name:      name,
		Source:    source,
		Size:      len(source),
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("프로그램 저장 실패: %w", err)
	}
	return rec, nil
}

// GetProgram - ID로 프로그램 조회
func (s *AssetStore) GetProgram(id string) (*models.StoredProgram, error) {
	var rec models.StoredProgram
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListPrograms - 최근 프로그램 목록 (소스 제외)
func (s *AssetStore) ListPrograms(limit int) ([]models.StoredProgram, error) {
	var recs []models.StoredProgram
	query := s.db.Select("id", "created_at", "name", "size").
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&recs).Error
	return recs, err
}
