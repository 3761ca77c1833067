package model

// CueType groups cues of one department (sound, lighting, ...).
type CueType struct {
	ID          uint64 `json:"id"`          // cue_types.id
	ShowID      uint64 `json:"show_id"`     // cue_types.show_id
	Prefix      string `json:"prefix"`      // cue_types.prefix
	Description string `json:"description"` // cue_types.description
	Colour      string `json:"colour"`      // cue_types.colour
}

// Cue is a named trigger. A cue only exists while at least one
// CueAssociation references it.
type Cue struct {
	ID        uint64 `json:"id"`          // cues.id
	CueTypeID uint64 `json:"cue_type_id"` // cues.cue_type_id
	Ident     string `json:"ident"`       // cues.ident
}

// CueAssociation places a cue on a line of a revision. All three columns
// form the primary key.
type CueAssociation struct {
	RevisionID uint64 `json:"revision_id"` // cue_associations.revision_id
	LineID     uint64 `json:"line_id"`     // cue_associations.line_id
	CueID      uint64 `json:"cue_id"`      // cue_associations.cue_id
}

// PlacedCue is a cue joined with the line it sits on in one revision.
type PlacedCue struct {
	Cue
	LineID uint64 `json:"line_id"`
}
