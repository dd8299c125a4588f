package domain

// Action is one named stage in the fixed per-file processing sequence.
type Action string

const (
	ActionExtract          Action = "extract"
	ActionClassify         Action = "classify"
	ActionFormatting       Action = "formatting"
	ActionTagging          Action = "tagging"
	ActionApplyingTags     Action = "applying_tags"
	ActionRecommendName    Action = "recommend_name"
	ActionApplyingName     Action = "applying_name"
	ActionMovingAttachment Action = "moving_attachment"
	ActionMoving           Action = "moving"
	ActionCleanup          Action = "cleanup"
	ActionCompleted        Action = "completed"
)

// fullSequence is the canonical order including the media-only stage.
var fullSequence = []Action{
	ActionExtract,
	ActionClassify,
	ActionFormatting,
	ActionTagging,
	ActionApplyingTags,
	ActionRecommendName,
	ActionApplyingName,
	ActionMovingAttachment,
	ActionMoving,
	ActionCleanup,
	ActionCompleted,
}

// Sequence returns the ordered action list for a file. Media files keep
// the attachment stage before the move; everything else skips it.
func Sequence(media bool) []Action {
	if media {
		out := make([]Action, len(fullSequence))
		copy(out, fullSequence)
		return out
	}
	out := make([]Action, 0, len(fullSequence)-1)
	for _, a := range fullSequence {
		if a == ActionMovingAttachment {
			continue
		}
		out = append(out, a)
	}
	return out
}

// OrderIndex reports an action's position in the canonical sequence.
// Unknown actions sort last.
func OrderIndex(a Action) int {
	for i, known := range fullSequence {
		if known == a {
			return i
		}
	}
	return len(fullSequence)
}
