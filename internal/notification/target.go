package notification

// Target is where a notification leads when opened. The concrete types form a
// closed set; each carries only the fields its destination needs.
type Target interface {
	isTarget()
}

// RevenueTarget opens the revenue dashboard.
type RevenueTarget struct{}

// RankUpgradeTarget opens the author rank upgrade page.
type RankUpgradeTarget struct{}

// ProfileTarget opens the signed-in user's profile.
type ProfileTarget struct{}

// FollowerTarget opens the profile of a new follower.
type FollowerTarget struct {
	FollowerID string
}

// StoryTarget opens a story detail page.
type StoryTarget struct {
	StoryID string
}

// ChapterTarget opens a chapter in the reader.
type ChapterTarget struct {
	StoryID   string
	ChapterID string
}

// GenericTarget opens the notification list.
type GenericTarget struct{}

func (RevenueTarget) isTarget()     {}
func (RankUpgradeTarget) isTarget() {}
func (ProfileTarget) isTarget()     {}
func (FollowerTarget) isTarget()    {}
func (StoryTarget) isTarget()       {}
func (ChapterTarget) isTarget()     {}
func (GenericTarget) isTarget()     {}

// Target classifies the item. Items whose payload lacks a field required by
// their type fall back to GenericTarget.
func (i Item) Target() Target {
	switch i.Type {
	case TypeVoicePurchase, TypeOpRequest, TypeChapterPurchase:
		return RevenueTarget{}
	case TypeAuthorRankUpgrade:
		return RankUpgradeTarget{}
	case TypeSubscriptionReminder:
		return ProfileTarget{}
	case TypeNewFollower:
		if id, ok := i.Field(FieldFollowerID); ok {
			return FollowerTarget{FollowerID: id}
		}
	case TypeStoryRating, TypeNewStory:
		if id, ok := i.Field(FieldStoryID); ok {
			return StoryTarget{StoryID: id}
		}
	case TypeChapterComment, TypeNewChapter:
		storyID, okStory := i.Field(FieldStoryID)
		chapterID, okChapter := i.Field(FieldChapterID)
		if okStory && okChapter {
			return ChapterTarget{StoryID: storyID, ChapterID: chapterID}
		}
	}
	return GenericTarget{}
}
