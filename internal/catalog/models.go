package catalog

import "time"

// RankedStatus 对应上游的谱面集状态枚举。
type RankedStatus int32

const (
	StatusNone      RankedStatus = -3
	StatusGraveyard RankedStatus = -2
	StatusWIP       RankedStatus = -1
	StatusPending   RankedStatus = 0
	StatusRanked    RankedStatus = 1
	StatusApproved  RankedStatus = 2
	StatusQualified RankedStatus = 3
	StatusLoved     RankedStatus = 4
)

// Genre 与 Language 是遗留字段，本服务写出的值恒为 Any。
type Genre int32

const GenreAny Genre = 0

type Language int32

const LanguageAny Language = 0

// PlayMode 标识子谱面的游戏模式。
type PlayMode int32

const (
	ModeOsu   PlayMode = 0
	ModeTaiko PlayMode = 1
	ModeCatch PlayMode = 2
	ModeMania PlayMode = 3
)

// BeatmapSet 是一条完整的目录记录。
type BeatmapSet struct {
	SetID            int
	ChildrenBeatmaps []ChildrenBeatmap
	RankedStatus     RankedStatus
	ApprovedDate     *time.Time
	LastUpdate       *time.Time
	LastChecked      *time.Time
	Artist           string
	Title            string
	Creator          string
	Source           string
	Tags             string
	HasVideo         bool
	Genre            Genre
	Language         Language
	Favourites       int64
}

// ChildrenBeatmap 是谱面集内的一个难度。
type ChildrenBeatmap struct {
	BeatmapID        int
	ParentSetID      int
	DiffName         string
	FileMD5          string
	Mode             PlayMode
	BPM              float32
	AR               float32
	OD               float32
	CS               float32
	HP               float32
	TotalLength      int
	HitLength        int64
	Playcount        int
	Passcount        int
	MaxCombo         int64
	DifficultyRating float64
}
