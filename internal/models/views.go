package models

// TopicRef is a populated topic reference inside a user profile.
type TopicRef struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type EmploymentView struct {
	Company TopicRef `json:"company"`
	Job     TopicRef `json:"job"`
}

type EducationView struct {
	School         TopicRef `json:"school"`
	Major          TopicRef `json:"major"`
	Diploma        int      `json:"diploma,omitempty"`
	EntranceYear   int      `json:"entrance_year,omitempty"`
	GraduationYear int      `json:"graduation_year,omitempty"`
}

// UserView is the public shape of a user. Optional fields are only filled
// when selected.
type UserView struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	AvatarURL   string           `json:"avatar_url,omitempty"`
	Gender      string           `json:"gender,omitempty"`
	Headline    string           `json:"headline,omitempty"`
	Locations   []TopicRef       `json:"locations,omitempty"`
	Business    *TopicRef        `json:"business,omitempty"`
	Employments []EmploymentView `json:"employments,omitempty"`
	Educations  []EducationView  `json:"educations,omitempty"`
	Following   []string         `json:"following,omitempty"`
}

// BaseUserView exposes only the base fields of u.
func BaseUserView(u User) UserView {
	return UserView{
		ID:        u.ID,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Gender:    u.Gender,
		Headline:  u.Headline,
	}
}

// BaseUserViews maps BaseUserView over users, never returning nil.
func BaseUserViews(users []User) []UserView {
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		out = append(out, BaseUserView(u))
	}
	return out
}

// NewUserView builds the view of u for sel, resolving topic references
// through topics. Unresolvable references keep only their id.
func NewUserView(u User, sel Selection, topics map[string]Topic) UserView {
	v := BaseUserView(u)
	ref := func(id string) TopicRef {
		if t, ok := topics[id]; ok {
			return TopicRef{ID: t.ID, Name: t.Name, AvatarURL: t.AvatarURL}
		}
		return TopicRef{ID: id}
	}

	if sel.Has("locations") {
		for _, id := range u.Locations {
			v.Locations = append(v.Locations, ref(id))
		}
	}
	if sel.Has("business") && u.Business != "" {
		b := ref(u.Business)
		v.Business = &b
	}
	if sel.Has("employments") {
		for _, e := range u.Employments {
			v.Employments = append(v.Employments, EmploymentView{Company: ref(e.Company), Job: ref(e.Job)})
		}
	}
	if sel.Has("educations") {
		for _, e := range u.Educations {
			v.Educations = append(v.Educations, EducationView{
				School:         ref(e.School),
				Major:          ref(e.Major),
				Diploma:        e.Diploma,
				EntranceYear:   e.EntranceYear,
				GraduationYear: e.GraduationYear,
			})
		}
	}
	if sel.Has("following") {
		v.Following = append([]string(nil), u.Following...)
	}
	return v
}

// TopicIDs lists every topic u references, in the order they appear.
func (u User) TopicIDs() []string {
	var ids []string
	ids = append(ids, u.Locations...)
	if u.Business != "" {
		ids = append(ids, u.Business)
	}
	for _, e := range u.Employments {
		ids = append(ids, e.Company, e.Job)
	}
	for _, e := range u.Educations {
		ids = append(ids, e.School, e.Major)
	}
	return ids
}

// TopicView is the public shape of a topic.
func TopicView(t Topic, sel Selection) Topic {
	if !sel.Has("introduction") {
		t.Introduction = ""
	}
	return t
}
