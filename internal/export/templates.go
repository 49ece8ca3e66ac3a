package export

import (
	"bytes"
	"embed"
	"html/template"
	"strconv"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var logTemplate = template.Must(
	template.New("log.html").Funcs(template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"stars":  stars,
		"rating": ratingLabel,
	}).ParseFS(templateFS, "templates/log.html"),
)

// TemplateData holds data for log template rendering
type TemplateData struct {
	Title       string
	Author      string
	ISBN        string
	CoverURL    string
	Rating      *int
	Review      string
	Status      string
	LoggedAt    time.Time
	UpdatedAt   time.Time
	GeneratedAt time.Time
	Chapters    []TemplateChapter
	NoteGroups  []TemplateNoteGroup
	Tags        []string
}

type TemplateChapter struct {
	Number     *int
	Title      string
	FinishedAt *time.Time
}

// TemplateNoteGroup holds the notes sharing one chapter label. An empty
// Label is the unlabeled group.
type TemplateNoteGroup struct {
	Label string
	Notes []string
}

// RenderLogHTML renders the log template with provided data
func RenderLogHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := logTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func stars(rating *int) string {
	if rating == nil {
		return "Not rated"
	}
	filled := *rating / 2
	half := *rating%2 == 1
	var b strings.Builder
	b.WriteString(strings.Repeat("★", filled))
	if half {
		b.WriteString("½")
	}
	b.WriteString(strings.Repeat("☆", 5-filled-boolToInt(half)))
	return b.String()
}

func ratingLabel(rating *int) string {
	if rating == nil {
		return ""
	}
	return strconv.Itoa(*rating) + "/10"
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
