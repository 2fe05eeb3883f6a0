package db

import (
	"time"
)

// Status is a single ordered domain spanning the submission pipeline
// (negative values) and the post-promotion remediation phase (>= 0).
// The ordering is load-bearing: webhook dispatch uses it to detect
// "already advanced past this event" races.
type Status int

const (
	StatusUnknown     Status = -99
	StatusUnsubmitted Status = -4
	StatusCreated     Status = -3
	StatusUploaded    Status = -2
	StatusPending     Status = -1
	StatusReady       Status = 0
	StatusFixed       Status = 1
	StatusNoAction    Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusUnsubmitted:
		return "unsubmitted"
	case StatusCreated:
		return "created"
	case StatusUploaded:
		return "uploaded"
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFixed:
		return "fixed"
	case StatusNoAction:
		return "no-action"
	default:
		return "unknown"
	}
}

// QueuedDiff maps diffs_queue: one row per revision awaiting similarity
// evaluation. SubmissionID is set iff status >= created.
type QueuedDiff struct {
	DiffID          int64     `gorm:"column:diff_queue_id;primaryKey;autoIncrement"`
	Project         string    `gorm:"column:project;type:varchar(20);not null;uniqueIndex:ix_diffs_queue_rev,priority:1"`
	Lang            string    `gorm:"column:lang;type:varchar(20);not null;uniqueIndex:ix_diffs_queue_rev,priority:2"`
	PageNamespace   int       `gorm:"column:page_namespace;not null"`
	PageTitle       string    `gorm:"column:page_title;type:varchar(255);not null"`
	RevID           int64     `gorm:"column:rev_id;not null;uniqueIndex:ix_diffs_queue_rev,priority:3"`
	RevParentID     int64     `gorm:"column:rev_parent_id;not null"`
	RevTimestamp    time.Time `gorm:"column:rev_timestamp;type:timestamptz;not null"`
	RevUserText     string    `gorm:"column:rev_user_text;type:varchar(255);not null"`
	SubmissionID    *string   `gorm:"column:submission_id;type:varchar(36);unique"`
	Status          Status    `gorm:"column:status;type:smallint;not null;default:-4;index"`
	StatusTimestamp time.Time `gorm:"column:status_timestamp;type:timestamptz;not null"`
}

func (QueuedDiff) TableName() string { return "diffs_queue" }

// Diff maps diffs: a confirmed match pending human remediation, created
// only by Promote in the same transaction that removes the queue row.
type Diff struct {
	DiffID          int64     `gorm:"column:diff_id;primaryKey;autoIncrement"`
	Project         string    `gorm:"column:project;type:varchar(20);not null;uniqueIndex:ix_diffs_rev,priority:1;index:ix_diffs_page,priority:1;index:ix_diffs_rev_time,priority:1"`
	Lang            string    `gorm:"column:lang;type:varchar(20);not null;uniqueIndex:ix_diffs_rev,priority:2;index:ix_diffs_page,priority:2;index:ix_diffs_rev_time,priority:2"`
	PageNamespace   int       `gorm:"column:page_namespace;not null;index:ix_diffs_page,priority:3"`
	PageTitle       string    `gorm:"column:page_title;type:varchar(255);not null;index:ix_diffs_page,priority:4"`
	RevID           int64     `gorm:"column:rev_id;not null;uniqueIndex:ix_diffs_rev,priority:3"`
	RevParentID     int64     `gorm:"column:rev_parent_id;not null"`
	RevTimestamp    time.Time `gorm:"column:rev_timestamp;type:timestamptz;not null;index:ix_diffs_rev_time,priority:3"`
	RevUserText     string    `gorm:"column:rev_user_text;type:varchar(255);not null"`
	SubmissionID    string    `gorm:"column:submission_id;type:varchar(36);not null;unique"`
	Status          Status    `gorm:"column:status;type:smallint;not null;default:0;index"`
	StatusTimestamp time.Time `gorm:"column:status_timestamp;type:timestamptz;not null"`
	StatusUserText  *string   `gorm:"column:status_user_text;type:varchar(255)"`

	Sources []Source `gorm:"foreignKey:SubmissionID;references:SubmissionID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE"`
}

func (Diff) TableName() string { return "diffs" }

// Source maps report_sources: one external match record per row.
type Source struct {
	SourceID     int64   `gorm:"column:source_id;primaryKey;autoIncrement"`
	SubmissionID string  `gorm:"column:submission_id;type:varchar(36);not null;index"`
	Description  string  `gorm:"column:description;type:text;not null"`
	URL          *string `gorm:"column:url;type:text"`
	Percent      float64 `gorm:"column:percent;not null"`
}

func (Source) TableName() string { return "report_sources" }

func autoMigrateModels() []any {
	return []any{
		&QueuedDiff{},
		&Diff{},
		&Source{},
	}
}
