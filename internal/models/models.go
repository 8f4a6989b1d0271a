package models

import "time"

// User is the stored user record. PasswordHash never leaves the server.
type User struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	PasswordHash string       `json:"-"`
	AvatarURL    string       `json:"avatar_url,omitempty"`
	Gender       string       `json:"gender,omitempty"`
	Headline     string       `json:"headline,omitempty"`
	Locations    []string     `json:"locations,omitempty"`
	Business     string       `json:"business,omitempty"`
	Employments  []Employment `json:"employments,omitempty"`
	Educations   []Education  `json:"educations,omitempty"`
	Following    []string     `json:"following,omitempty"`
	Created      time.Time    `json:"created"`
}

// Employment references two topics: the company and the job title.
type Employment struct {
	Company string `json:"company" cql:"company"`
	Job     string `json:"job" cql:"job"`
}

type Education struct {
	School         string `json:"school" cql:"school"`
	Major          string `json:"major" cql:"major"`
	Diploma        int    `json:"diploma,omitempty" cql:"diploma"`
	EntranceYear   int    `json:"entrance_year,omitempty" cql:"entrance_year"`
	GraduationYear int    `json:"graduation_year,omitempty" cql:"graduation_year"`
}

// UserPatch carries a partial update. Nil fields are left untouched.
type UserPatch struct {
	Name         *string
	PasswordHash *string
	AvatarURL    *string
	Gender       *string
	Headline     *string
	Locations    *[]string
	Business     *string
	Employments  *[]Employment
	Educations   *[]Education
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.PasswordHash == nil && p.AvatarURL == nil &&
		p.Gender == nil && p.Headline == nil && p.Locations == nil &&
		p.Business == nil && p.Employments == nil && p.Educations == nil
}

type Topic struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Introduction string    `json:"introduction,omitempty"`
	Created      time.Time `json:"created"`
}

type TopicPatch struct {
	Name         *string
	AvatarURL    *string
	Introduction *string
}

func (p TopicPatch) Empty() bool {
	return p.Name == nil && p.AvatarURL == nil && p.Introduction == nil
}

// Activity is one entry of a user's activity log.
type Activity struct {
	UserID   string    `json:"user_id"`
	EventID  string    `json:"event_id"`
	Kind     string    `json:"kind"`
	TargetID string    `json:"target_id,omitempty"`
	Created  time.Time `json:"created"`
}
