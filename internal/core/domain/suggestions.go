package domain

// TagSuggestion is one scored tag proposal from the AI service.
type TagSuggestion struct {
	Tag    string  `json:"tag"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
	IsNew  bool    `json:"isNew,omitempty"`
}

// TitleSuggestion is one scored title proposal.
type TitleSuggestion struct {
	Title  string  `json:"title"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// FolderSuggestion is one scored destination-folder proposal.
type FolderSuggestion struct {
	Folder      string  `json:"folder"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason,omitempty"`
	IsNewFolder bool    `json:"isNewFolder,omitempty"`
}

// Template pairs a classification label with its formatting instruction.
// Labels are the basenames of the files in the templates folder.
type Template struct {
	Name        string
	Instruction string
}
