package model

import "time"

// LineType classifies a script line.
type LineType int

const (
	LineDialogue       LineType = 1
	LineStageDirection LineType = 2
	LineCue            LineType = 3
	LineSpacing        LineType = 4
)

// Valid reports whether t is a known line type.
func (t LineType) Valid() bool { return t >= LineDialogue && t <= LineSpacing }

func (t LineType) String() string {
	switch t {
	case LineDialogue:
		return "DIALOGUE"
	case LineStageDirection:
		return "STAGE_DIRECTION"
	case LineCue:
		return "CUE_LINE"
	case LineSpacing:
		return "SPACING"
	}
	return "UNKNOWN"
}

// Script is the single script of a show. CurrentRevision is the revision
// presented to live clients.
type Script struct {
	ID              uint64  `json:"id"`               // scripts.id
	ShowID          uint64  `json:"show_id"`          // scripts.show_id
	CurrentRevision *uint64 `json:"current_revision"` // scripts.current_revision (nullable)
}

// ScriptRevision is one entry of a script's revision chain. Revision 1 is
// the root and has no previous revision; every other revision points to an
// earlier revision of the same script.
type ScriptRevision struct {
	ID                 uint64    `json:"id"`                   // script_revisions.id
	ScriptID           uint64    `json:"script_id"`            // script_revisions.script_id
	Revision           int       `json:"revision"`             // script_revisions.revision
	PreviousRevisionID *uint64   `json:"previous_revision_id"` // script_revisions.previous_revision_id (nullable)
	Description        string    `json:"description"`          // script_revisions.description
	CreatedAt          time.Time `json:"created_at"`           // script_revisions.created_at
	EditedAt           time.Time `json:"edited_at"`            // script_revisions.edited_at
}

// IsOrphan reports whether r is a non-root revision that lost its link.
func (r ScriptRevision) IsOrphan() bool {
	return r.PreviousRevisionID == nil && r.Revision != 1
}

// ScriptLine is one line of a revision, ordered by Position.
type ScriptLine struct {
	ID         uint64           `json:"id"`          // script_lines.id
	RevisionID uint64           `json:"revision_id"` // script_lines.revision_id
	Position   int              `json:"position"`    // script_lines.position
	ActID      *uint64          `json:"act_id"`      // script_lines.act_id (nullable)
	SceneID    *uint64          `json:"scene_id"`    // script_lines.scene_id (nullable)
	Page       int              `json:"page"`        // script_lines.page
	LineType   LineType         `json:"line_type"`   // script_lines.line_type
	Parts      []ScriptLinePart `json:"parts"`
}

// ScriptLinePart is a character's share of a line.
type ScriptLinePart struct {
	ID               uint64  `json:"id"`                 // script_line_parts.id
	LineID           uint64  `json:"line_id"`            // script_line_parts.line_id
	PartIndex        int     `json:"part_index"`         // script_line_parts.part_index
	CharacterID      *uint64 `json:"character_id"`       // script_line_parts.character_id (nullable)
	CharacterGroupID *uint64 `json:"character_group_id"` // script_line_parts.character_group_id (nullable)
	LineText         string  `json:"line_text"`          // script_line_parts.line_text
}

// LineContent is the client-supplied description of a line when a new
// revision is written. SourceLineID optionally names the line of the
// previous revision this line was derived from; its cues are carried over.
type LineContent struct {
	ActID        *uint64       `json:"act_id,omitempty"`
	SceneID      *uint64       `json:"scene_id,omitempty"`
	Page         int           `json:"page"`
	LineType     LineType      `json:"line_type"`
	Parts        []PartContent `json:"parts"`
	SourceLineID *uint64       `json:"source_line_id,omitempty"`
}

// PartContent is the client-supplied description of a line part.
type PartContent struct {
	CharacterID      *uint64 `json:"character_id,omitempty"`
	CharacterGroupID *uint64 `json:"character_group_id,omitempty"`
	LineText         string  `json:"line_text"`
}
