package app

import (
	"readinglog/api/internal/gitrepo"
	"readinglog/api/internal/store"
)

func bookPayload(book store.Book) map[string]any {
	return map[string]any{
		"id":            book.ID,
		"title":         book.Title,
		"author":        book.Author,
		"isbn":          book.ISBN,
		"coverImageUrl": book.CoverImageURL,
		"createdAt":     book.CreatedAt,
	}
}

func logPayload(item store.BookLog) map[string]any {
	payload := map[string]any{
		"id":         item.ID,
		"userId":     item.UserID,
		"bookId":     item.BookID,
		"rating":     item.Rating,
		"review":     item.ReviewText,
		"readStatus": item.ReadStatus,
		"createdAt":  item.CreatedAt,
		"updatedAt":  item.UpdatedAt,
		"book":       nil,
	}
	if item.Book != nil {
		payload["book"] = bookPayload(*item.Book)
	}
	return payload
}

func notePayload(note store.LogNote) map[string]any {
	return map[string]any{
		"id":        note.ID,
		"logId":     note.LogID,
		"chapter":   note.Chapter,
		"text":      note.NoteText,
		"createdAt": note.CreatedAt,
	}
}

func chapterPayload(chapter store.LogChapter) map[string]any {
	return map[string]any{
		"id":            chapter.ID,
		"logId":         chapter.LogID,
		"chapterNumber": chapter.ChapterNumber,
		"title":         chapter.ChapterTitle,
		"finishedAt":    chapter.FinishedAt,
		"createdAt":     chapter.CreatedAt,
	}
}

func tagPayload(tag store.Tag) map[string]any {
	return map[string]any{
		"id":   tag.ID,
		"name": tag.Name,
	}
}

func tagsPayload(tags []store.Tag) []map[string]any {
	items := make([]map[string]any, 0, len(tags))
	for _, tag := range tags {
		items = append(items, tagPayload(tag))
	}
	return items
}

func commitPayload(commit gitrepo.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": commit.CreatedAt,
	}
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"email":        session.Email,
		"displayName":  session.DisplayName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}
