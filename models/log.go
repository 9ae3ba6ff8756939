package models

import (
	"time"
)

// StoredMap - 업로드된 맵 파일 (v1 JSON 원본)
type StoredMap struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `gorm:"size:255" json:"name"`
	Payload   []byte    `json:"-"` // 원본 맵 JSON
	Zones     int       `json:"zones"`
	Lamps     int       `json:"lamps"`
	Obstacles int       `json:"obstacles"`
}

// StoredProgram - 업로드된 제어 프로그램
type StoredProgram struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `gorm:"size:255" json:"name"`
	Source    string    `gorm:"type:text" json:"source,omitempty"`
	Size      int       `json:"size"`
}
