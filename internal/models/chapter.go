package models

import "gorm.io/datatypes"

// Chapter is a narrative unit generated from a completed session's turns.
type Chapter struct {
	Base
	SessionID      string                      `json:"session_id"      gorm:"type:char(36);index;not null"`
	Title          string                      `json:"title"`
	Summary        string                      `json:"summary"         gorm:"type:text"`
	OverallSummary string                      `json:"overall_summary" gorm:"type:text"`
	Quotes         datatypes.JSONSlice[string] `json:"quotes"`
	ImageHints     datatypes.JSONSlice[string] `json:"image_hints"`
	OrderIndex     int                         `json:"order_index"`
}

func (Chapter) TableName() string { return TableChapters }
