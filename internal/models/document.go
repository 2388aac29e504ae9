// internal/models/document.go
package models

import (
	"slices"
	"strings"
	"time"
)

// ContentType tells how ContentDocument.Content must be interpreted.
type ContentType string

const (
	ContentTypeHTML     ContentType = "html"
	ContentTypeMarkdown ContentType = "markdown"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	return t == ContentTypeHTML || t == ContentTypeMarkdown
}

// ParseContentType maps "" to html and rejects unknown values.
func ParseContentType(s string) (ContentType, bool) {
	t := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return ContentTypeHTML, true
	}
	return t, t.Valid()
}

// Document limits.
const (
	MaxTitleLength = 200
	MaxTags        = 10
)

// Categories accepted for a document.
var Categories = []string{
	"Technology", "Lifestyle", "Education", "Health", "Data Science", "Java", "Python", "Other",
}

const DefaultCategory = "Other"

// ValidTags is the allow-list used when filtering documents by tag.
var ValidTags = []string{
	"concept", "notion", "thought", "opinion", "idea", "theory", "plan", "draft", "vision",
	"insight", "creativity", "innovation", "learning", "education", "strategy", "technique",
	"update", "revision",
}

// IsValidCategory reports whether c is one of Categories.
func IsValidCategory(c string) bool {
	return slices.Contains(Categories, c)
}

// IsValidTag reports whether t (case-insensitive) is on the tag allow-list.
func IsValidTag(t string) bool {
	return slices.Contains(ValidTags, strings.ToLower(strings.TrimSpace(t)))
}

// ContentDocument is one authored blog post.
type ContentDocument struct {
	ID               string      `json:"id" bson:"_id" firestore:"id"`
	Title            string      `json:"title" bson:"title" firestore:"title"`
	Content          string      `json:"content" bson:"content" firestore:"content"`
	ContentType      ContentType `json:"content_type" bson:"content_type" firestore:"content_type"`
	PlainTextContent string      `json:"plain_text_content" bson:"plain_text_content" firestore:"plain_text_content"`
	Category         string      `json:"category" bson:"category" firestore:"category"`
	Tags             []string    `json:"tags" bson:"tags" firestore:"tags"`
	ImageURL         string      `json:"image_url,omitempty" bson:"image_url,omitempty" firestore:"image_url"`

	// attribution, copied from the caller's identity at creation
	CreatedBy    string `json:"created_by" bson:"created_by" firestore:"created_by"`
	Author       string `json:"author" bson:"author" firestore:"author"`
	AuthorEmail  string `json:"author_email,omitempty" bson:"author_email,omitempty" firestore:"author_email"`
	ProfilePhoto string `json:"profile_photo,omitempty" bson:"profile_photo,omitempty" firestore:"profile_photo"`

	Views     int64     `json:"views" bson:"views" firestore:"views"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
}

// Clone returns a deep copy.
func (d *ContentDocument) Clone() *ContentDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.Tags = slices.Clone(d.Tags)
	return &c
}

// ContentPatch is a partial update; nil fields are left unchanged.
type ContentPatch struct {
	Title            *string      `json:"title,omitempty"`
	Content          *string      `json:"content,omitempty"`
	ContentType      *ContentType `json:"content_type,omitempty"`
	PlainTextContent *string      `json:"-"`
	Category         *string      `json:"category,omitempty"`
	Tags             *[]string    `json:"tags,omitempty"`
	ImageURL         *string      `json:"image_url,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ContentPatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.ContentType == nil &&
		p.PlainTextContent == nil && p.Category == nil && p.Tags == nil && p.ImageURL == nil
}

// Apply writes the patch onto doc and bumps UpdatedAt.
func (p ContentPatch) Apply(doc *ContentDocument, now time.Time) {
	if p.Title != nil {
		doc.Title = *p.Title
	}
	if p.Content != nil {
		doc.Content = *p.Content
	}
	if p.ContentType != nil {
		doc.ContentType = *p.ContentType
	}
	if p.PlainTextContent != nil {
		doc.PlainTextContent = *p.PlainTextContent
	}
	if p.Category != nil {
		doc.Category = *p.Category
	}
	if p.Tags != nil {
		doc.Tags = slices.Clone(*p.Tags)
	}
	if p.ImageURL != nil {
		doc.ImageURL = *p.ImageURL
	}
	doc.UpdatedAt = now
}

// ContentFilter selects documents in List. Zero values match everything.
type ContentFilter struct {
	CreatedBy string
	Category  string
	Tags      []string // match documents carrying any of these
	ExcludeID string
	Limit     int
}

// Matches reports whether doc satisfies the filter.
func (f ContentFilter) Matches(doc *ContentDocument) bool {
	if f.CreatedBy != "" && doc.CreatedBy != f.CreatedBy {
		return false
	}
	if f.Category != "" && doc.Category != f.Category {
		return false
	}
	if f.ExcludeID != "" && doc.ID == f.ExcludeID {
		return false
	}
	if len(f.Tags) > 0 {
		for _, t := range f.Tags {
			if slices.Contains(doc.Tags, t) {
				return true
			}
		}
		return false
	}
	return true
}

// Identity is the caller as supplied by the identity provider.
type Identity struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// IsGuest reports whether there is no authenticated user.
func (i Identity) IsGuest() bool {
	return i.UserID == ""
}
