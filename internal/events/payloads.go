package events

type LogUpsertedData struct {
	LogID   int64 `json:"logId"`
	BookID  int64 `json:"bookId"`
	Created bool  `json:"created"`
	Rating  *int  `json:"rating"`
}

type TagData struct {
	LogID int64  `json:"logId"`
	TagID int64  `json:"tagId"`
	Name  string `json:"name,omitempty"`
}

type ChapterRenamedData struct {
	ChapterID    int64   `json:"chapterId"`
	LogID        int64   `json:"logId"`
	From         *string `json:"from"`
	To           *string `json:"to"`
	NotesUpdated int64   `json:"notesUpdated"`
}
