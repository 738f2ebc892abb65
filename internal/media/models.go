package media

import (
	"path"
	"time"
)

// Media is a file uploaded by a user. Rows disappear with their owner
// through the users foreign key.
type Media struct {
	ID        string    `gorm:"primaryKey;column:id" json:"id"`
	UserID    string    `gorm:"column:user_id" json:"user_id"`
	FileName  string    `gorm:"column:file_name" json:"file_name"`
	FileURL   string    `gorm:"column:file_url" json:"file_url"`
	FileType  string    `gorm:"column:file_type" json:"file_type"`
	FileSize  int64     `gorm:"column:file_size" json:"file_size"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Media) TableName() string { return "media" }

// ObjectKey is where the bytes live in the storage provider.
func (m *Media) ObjectKey() string {
	return path.Join(m.UserID, m.ID, m.FileName)
}
