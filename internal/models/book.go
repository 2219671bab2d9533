package models

// Book is a story group: the top-level container a user organizes
// sessions and stories under.
type Book struct {
	Root
	UserID      string `json:"user_id"     gorm:"type:char(36);index;not null"`
	Title       string `json:"title"       gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`
}

func (Book) TableName() string { return TableBooks }
