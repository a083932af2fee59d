package models

import (
	"strings"
	"time"
)

// ChangeKind distinguishes pre-final corrections from post-final amendments.
type ChangeKind string

const (
	ChangeKindCorrection ChangeKind = "correction"
	ChangeKindAmendment  ChangeKind = "amendment"
)

// ReasonCode enumerates why a finalized value was amended.
type ReasonCode string

const (
	ReasonDataEntryError       ReasonCode = "data_entry_error"
	ReasonTranscriptionError   ReasonCode = "transcription_error"
	ReasonEquipmentMalfunction ReasonCode = "equipment_malfunction"
	ReasonSampleMixUp          ReasonCode = "sample_mix_up"
	ReasonRepeatTest           ReasonCode = "repeat_test"
	ReasonClinicalReview       ReasonCode = "clinical_review"
	ReasonQualityControl       ReasonCode = "quality_control"
	ReasonOther                ReasonCode = "other"
)

var reasonCodes = map[ReasonCode]struct{}{
	ReasonDataEntryError:       {},
	ReasonTranscriptionError:   {},
	ReasonEquipmentMalfunction: {},
	ReasonSampleMixUp:          {},
	ReasonRepeatTest:           {},
	ReasonClinicalReview:       {},
	ReasonQualityControl:       {},
	ReasonOther:                {},
}

// ParseReasonCode maps raw input onto the closed enumeration.
// Unknown codes resolve to ReasonOther and are returned as detail.
func ParseReasonCode(raw string) (code ReasonCode, detail string) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", ""
	}
	if _, ok := reasonCodes[ReasonCode(normalized)]; ok {
		return ReasonCode(normalized), ""
	}
	return ReasonOther, strings.TrimSpace(raw)
}

// Amendment is one immutable change record in a result's history.
type Amendment struct {
	Seq           int        `json:"seq"`
	Kind          ChangeKind `json:"kind"`
	Timestamp     time.Time  `json:"timestamp"`
	Actor         string     `json:"actor"`
	PreviousValue string     `json:"previousValue"`
	NewValue      string     `json:"newValue"`
	PreviousFlag  ResultFlag `json:"previousFlag,omitempty"`
	NewFlag       ResultFlag `json:"newFlag,omitempty"`
	ReasonCode    ReasonCode `json:"reasonCode,omitempty"`
	ReasonDetail  string     `json:"reasonDetail,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}
