package types

// Project groups tasks.
type Project struct {
	ID         string `json:"id" toml:"id"`
	Name       string `json:"name" toml:"name"`
	Color      string `json:"color,omitempty" toml:"color"`
	IsFavorite bool   `json:"is_favorite,omitempty" toml:"is_favorite"`
	ChildOrder int    `json:"child_order" toml:"child_order"`
}

// EntityID implements Entity.
func (p *Project) EntityID() string { return p.ID }

// Kind implements Entity.
func (p *Project) Kind() Kind { return KindProject }

// WithID implements Entity.
func (p *Project) WithID(id string) Entity {
	c := *p
	c.ID = id
	return &c
}

// Clone returns a copy that may be modified before publishing.
func (p *Project) Clone() *Project {
	c := *p
	return &c
}

// Validate checks if the Project has valid field values.
func (p *Project) Validate() error {
	return validateText("name", p.Name, MaxNameLength, true)
}

// Section partitions a project.
type Section struct {
	ID           string `json:"id" toml:"id"`
	ProjectID    string `json:"project_id" toml:"project_id"`
	Name         string `json:"name" toml:"name"`
	SectionOrder int    `json:"section_order" toml:"section_order"`
}

// EntityID implements Entity.
func (s *Section) EntityID() string { return s.ID }

// Kind implements Entity.
func (s *Section) Kind() Kind { return KindSection }

// WithID implements Entity.
func (s *Section) WithID(id string) Entity {
	c := *s
	c.ID = id
	return &c
}

// Clone returns a copy that may be modified before publishing.
func (s *Section) Clone() *Section {
	c := *s
	return &c
}

// Validate checks if the Section has valid field values.
func (s *Section) Validate() error {
	if err := validateText("name", s.Name, MaxNameLength, true); err != nil {
		return err
	}
	if s.ProjectID == "" {
		return &ValidationError{Field: "project_id", Reason: "is required"}
	}
	return nil
}

// Label tags tasks by name.
type Label struct {
	ID        string `json:"id" toml:"id"`
	Name      string `json:"name" toml:"name"`
	Color     string `json:"color,omitempty" toml:"color"`
	ItemOrder int    `json:"item_order" toml:"item_order"`
}

// EntityID implements Entity.
func (l *Label) EntityID() string { return l.ID }

// Kind implements Entity.
func (l *Label) Kind() Kind { return KindLabel }

// WithID implements Entity.
func (l *Label) WithID(id string) Entity {
	c := *l
	c.ID = id
	return &c
}

// Clone returns a copy that may be modified before publishing.
func (l *Label) Clone() *Label {
	c := *l
	return &c
}

// Validate checks if the Label has valid field values.
func (l *Label) Validate() error {
	return validateText("name", l.Name, MaxNameLength, true)
}
