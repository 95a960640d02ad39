// Package routing maps tickets to the repository their change is published to.
package routing

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/alekspetrov/hourglass/internal/ticket"
)

// Errors for routing
var (
	ErrNoRoute            = errors.New("no repository route for ticket")
	ErrUnknownProject     = errors.New("unknown project")
	ErrNoDefault          = errors.New("project has no default repository")
	ErrMultipleDefaults   = errors.New("project has more than one default repository")
	ErrDuplicateProject   = errors.New("duplicate project key")
	ErrInvalidAssociation = errors.New("invalid repository association")
)

// Repository is a publication target.
type Repository struct {
	Name       string `yaml:"name"` // owner/repo
	URL        string `yaml:"url"`
	Host       string `yaml:"host"` // explicit code host override
	BaseBranch string `yaml:"base_branch"`
	LocalPath  string `yaml:"local_path"`
	BotEnabled bool   `yaml:"bot_enabled"`
}

// Association links a project to a repository with a routing rule.
type Association struct {
	Repository Repository `yaml:"repository"`
	Priority   int        `yaml:"priority"` // ascending, lower wins
	IsDefault  bool       `yaml:"is_default"`
	Labels     []string   `yaml:"labels"`
	Components []string   `yaml:"components"`
	// TitlePattern is a regular expression matched against the ticket title.
	TitlePattern string `yaml:"title_pattern"`

	// Predicate is a custom rule. It is compiled from TitlePattern when nil.
	Predicate func(*ticket.Ticket) bool `yaml:"-"`
}

// Matches reports whether the rule's component mapping, label mapping or
// predicate matches t.
func (a *Association) Matches(t *ticket.Ticket) bool {
	for _, c := range a.Components {
		if t.HasComponent(c) {
			return true
		}
	}
	for _, l := range a.Labels {
		if t.HasLabel(l) {
			return true
		}
	}
	return a.Predicate != nil && a.Predicate(t)
}

// Project groups associations for one tracker project.
type Project struct {
	Key          string        `yaml:"key"`
	Source       string        `yaml:"source"`    // ticket source override
	CodeHost     string        `yaml:"code_host"` // code host override for all repositories
	BotEnabled   bool          `yaml:"bot_enabled"`
	Associations []Association `yaml:"repositories"`
}

// ValidateAssociations enforces that exactly one association is the default.
func ValidateAssociations(assocs []Association) error {
	defaults := 0
	for _, a := range assocs {
		if a.Repository.Name == "" {
			return fmt.Errorf("%w: repository name is required", ErrInvalidAssociation)
		}
		if a.TitlePattern != "" {
			if _, err := regexp.Compile(a.TitlePattern); err != nil {
				return fmt.Errorf("%w: title_pattern for %s: %v", ErrInvalidAssociation, a.Repository.Name, err)
			}
		}
		if a.IsDefault {
			defaults++
		}
	}
	switch {
	case defaults == 0:
		return ErrNoDefault
	case defaults > 1:
		return ErrMultipleDefaults
	}
	return nil
}

// Route returns the first association, by ascending priority, whose rule
// matches t, otherwise the default. Equal priorities keep input order.
func Route(t *ticket.Ticket, assocs []Association) (*Association, error) {
	ordered := make([]*Association, 0, len(assocs))
	for i := range assocs {
		ordered = append(ordered, &assocs[i])
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var def *Association
	for _, a := range ordered {
		if a.IsDefault && def == nil {
			def = a
		}
		if a.Matches(t) {
			return a, nil
		}
	}
	if def != nil {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRoute, t.ExternalKey)
}

// Router holds validated projects keyed by project key.
type Router struct {
	projects map[string]*Project
}

// NewRouter validates every project and compiles title patterns.
func NewRouter(projects []Project) (*Router, error) {
	r := &Router{projects: make(map[string]*Project, len(projects))}
	for i := range projects {
		p := projects[i]
		if _, dup := r.projects[p.Key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProject, p.Key)
		}
		if err := ValidateAssociations(p.Associations); err != nil {
			return nil, fmt.Errorf("project %s: %w", p.Key, err)
		}

		assocs := make([]Association, len(p.Associations))
		copy(assocs, p.Associations)
		for j := range assocs {
			if assocs[j].Predicate == nil && assocs[j].TitlePattern != "" {
				re := regexp.MustCompile(assocs[j].TitlePattern)
				assocs[j].Predicate = func(t *ticket.Ticket) bool { return re.MatchString(t.Title) }
			}
		}
		p.Associations = assocs
		r.projects[p.Key] = &p
	}
	return r, nil
}

// Project returns the project for key.
func (r *Router) Project(key string) (*Project, error) {
	p, ok := r.projects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProject, key)
	}
	return p, nil
}

// Projects returns all projects.
func (r *Router) Projects() []*Project {
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RouteTicket resolves the repository for t within its project.
func (r *Router) RouteTicket(t *ticket.Ticket) (*Project, *Association, error) {
	p, err := r.Project(t.ProjectKey)
	if err != nil {
		return nil, nil, err
	}
	a, err := Route(t, p.Associations)
	if err != nil {
		return p, nil, err
	}
	return p, a, nil
}

// Eligible reports whether t belongs to a bot-enabled project and routes to
// a bot-enabled repository.
func (r *Router) Eligible(t *ticket.Ticket) bool {
	p, a, err := r.RouteTicket(t)
	if err != nil {
		return false
	}
	return p.BotEnabled && a.Repository.BotEnabled
}
