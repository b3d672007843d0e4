package notification

import (
	"encoding/json"
	"strconv"
	"time"
)

// Type is the semantic kind of a notification. The set is closed; anything
// the backend sends outside of it is treated as TypeOther.
type Type string

const (
	TypeVoicePurchase        Type = "voice_purchase"
	TypeOpRequest            Type = "op_request"
	TypeChapterPurchase      Type = "chapter_purchase"
	TypeAuthorRankUpgrade    Type = "author_rank_upgrade"
	TypeSubscriptionReminder Type = "subscription_reminder"
	TypeNewFollower          Type = "new_follower"
	TypeStoryRating          Type = "story_rating"
	TypeNewStory             Type = "new_story"
	TypeChapterComment       Type = "chapter_comment"
	TypeNewChapter           Type = "new_chapter"
	TypeOther                Type = "other"
)

// Payload field names used by the deep-link targets.
const (
	FieldStoryID    = "storyId"
	FieldChapterID  = "chapterId"
	FieldFollowerID = "followerId"
)

// ParseType maps a wire value onto the closed Type set.
func ParseType(s string) Type {
	switch t := Type(s); t {
	case TypeVoicePurchase, TypeOpRequest, TypeChapterPurchase,
		TypeAuthorRankUpgrade, TypeSubscriptionReminder, TypeNewFollower,
		TypeStoryRating, TypeNewStory, TypeChapterComment, TypeNewChapter:
		return t
	default:
		return TypeOther
	}
}

// UnmarshalJSON decodes a type string, folding unknown values into TypeOther.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseType(s)
	return nil
}

// Item is a single notification as delivered by the hub or the REST list.
// Two items with the same ID are the same logical notification.
type Item struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Payload   map[string]any `json:"payload,omitempty"`
	IsRead    bool           `json:"isRead"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Field returns a payload value as a string. Numeric ids are formatted
// without an exponent. Missing, null and empty values report false.
func (i Item) Field(name string) (string, bool) {
	v, ok := i.Payload[name]
	if !ok || v == nil {
		return "", false
	}

	var s string
	switch val := v.(type) {
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		s = val.String()
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	default:
		return "", false
	}

	if s == "" {
		return "", false
	}
	return s, true
}

// Change describes one mutation of the working set.
type Change struct {
	// Items is the working set after the mutation, most recent first.
	Items []Item `json:"items"`
	// Pushed is set when the change came from a hub push.
	Pushed *Item     `json:"pushed,omitempty"`
	At     time.Time `json:"at"`
}

// UnreadCount returns the number of unread items in the change.
func (c Change) UnreadCount() int {
	n := 0
	for _, item := range c.Items {
		if !item.IsRead {
			n++
		}
	}
	return n
}
