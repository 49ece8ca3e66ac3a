package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultFlashTTL = 4 * time.Second

	msgLoadFailed   = "Could not load this log."
	msgTagFailed    = "Could not update tags."
	msgTagBlank     = "Tag name cannot be empty."
	codeTagAttached = "TAG_ALREADY_ATTACHED"
)

// ErrTagAlreadyAdded is returned without a request when the tag is already
// shown on the log.
var ErrTagAlreadyAdded = errors.New("tag already added to this log")

// LogAPI is the part of Client that LogView needs.
type LogAPI interface {
	GetLog(ctx context.Context, logID int64) (LogDetail, error)
	AttachTag(ctx context.Context, logID int64, name string) (TagsResult, error)
	DetachTag(ctx context.Context, logID, tagID int64) (TagsResult, error)
}

// LogViewState is what the detail view renders.
type LogViewState struct {
	LogID   int64
	Detail  *LogDetail
	Tags    []Tag
	Error   string
	Message string
	Loading bool
}

// LogView holds the detail view for exactly one log at a time. Every
// answer is tagged with the generation it was requested under and dropped
// if the view has since been retargeted or closed.
type LogView struct {
	api      LogAPI
	flashTTL time.Duration

	mu         sync.Mutex
	gen        uint64
	state      LogViewState
	flashTimer *time.Timer
}

func NewLogView(api LogAPI, flashTTL time.Duration) *LogView {
	if flashTTL <= 0 {
		flashTTL = DefaultFlashTTL
	}
	return &LogView{api: api, flashTTL: flashTTL}
}

// NormalizeTag is the form tag names are compared and stored in.
func NormalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Open retargets the view and loads the log.
func (v *LogView) Open(ctx context.Context, logID int64) error {
	v.Retarget(logID)
	return v.Load(ctx)
}

// Retarget points the view at another log and drops everything that
// belonged to the previous one. Zero closes the view.
func (v *LogView) Retarget(logID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	if v.flashTimer != nil {
		v.flashTimer.Stop()
		v.flashTimer = nil
	}
	v.state = LogViewState{LogID: logID}
}

func (v *LogView) Close() {
	v.Retarget(0)
}

func (v *LogView) State() LogViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	state := v.state
	state.Tags = append([]Tag(nil), v.state.Tags...)
	return state
}

// Load fetches the current log. A response that arrives after the view
// moved on is discarded.
func (v *LogView) Load(ctx context.Context) error {
	v.mu.Lock()
	gen, logID := v.gen, v.state.LogID
	if logID == 0 {
		v.mu.Unlock()
		return nil
	}
	v.state.Loading = true
	v.mu.Unlock()

	detail, err := v.api.GetLog(ctx, logID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return nil
	}
	v.state.Loading = false
	if err != nil {
		v.state.Error = msgLoadFailed
		return err
	}
	v.state.Error = ""
	v.state.Detail = &detail
	v.state.Tags = sortedTags(detail.Tags)
	return nil
}

// AttachTag adds a tag by name. Names already on the log are rejected
// locally; the server absorbs the rest of the races.
func (v *LogView) AttachTag(ctx context.Context, name string) error {
	normalized := NormalizeTag(name)

	v.mu.Lock()
	gen, logID := v.gen, v.state.LogID
	if normalized == "" {
		v.flashLocked(msgTagBlank, true)
		v.mu.Unlock()
		return nil
	}
	for _, tag := range v.state.Tags {
		if tag.Name == normalized {
			v.flashLocked(alreadyAddedMessage(normalized), true)
			v.mu.Unlock()
			return ErrTagAlreadyAdded
		}
	}
	v.mu.Unlock()

	result, err := v.api.AttachTag(ctx, logID, normalized)

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return nil
	}
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeTagAttached {
			v.flashLocked(alreadyAddedMessage(normalized), true)
			return ErrTagAlreadyAdded
		}
		v.flashLocked(msgTagFailed, true)
		return err
	}
	v.state.Tags = sortedTags(result.Tags)
	v.flashLocked(fmt.Sprintf(`Tag "%s" added.`, normalized), false)
	return nil
}

// DetachTag removes the link only. The tag itself stays available.
func (v *LogView) DetachTag(ctx context.Context, tagID int64) error {
	v.mu.Lock()
	gen, logID := v.gen, v.state.LogID
	v.mu.Unlock()

	result, err := v.api.DetachTag(ctx, logID, tagID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return nil
	}
	if err != nil {
		v.flashLocked(msgTagFailed, true)
		return err
	}
	v.state.Tags = sortedTags(result.Tags)
	return nil
}

// flashLocked shows a message that clears itself after flashTTL.
func (v *LogView) flashLocked(message string, isError bool) {
	if isError {
		v.state.Error, v.state.Message = message, ""
	} else {
		v.state.Message, v.state.Error = message, ""
	}
	if v.flashTimer != nil {
		v.flashTimer.Stop()
	}
	gen := v.gen
	v.flashTimer = time.AfterFunc(v.flashTTL, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if gen != v.gen {
			return
		}
		if v.state.Error == message {
			v.state.Error = ""
		}
		if v.state.Message == message {
			v.state.Message = ""
		}
	})
}

func alreadyAddedMessage(name string) string {
	return fmt.Sprintf(`Tag "%s" already added to this log.`, name)
}

func sortedTags(tags []Tag) []Tag {
	sorted := append([]Tag(nil), tags...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}
