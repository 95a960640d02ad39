package routing

import (
	"errors"
	"testing"

	"github.com/alekspetrov/hourglass/internal/ticket"
)

func TestRoutePrefersPriorityRuleOverDefault(t *testing.T) {
	assocs := []Association{
		{Repository: Repository{Name: "acme/monolith"}, Priority: 2, IsDefault: true},
		{Repository: Repository{Name: "acme/frontend"}, Priority: 1, Labels: []string{"frontend"}},
	}

	labelled := &ticket.Ticket{ExternalKey: "OPS-1", Labels: []string{"Frontend"}}
	a, err := Route(labelled, assocs)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if a.Repository.Name != "acme/frontend" {
		t.Errorf("labelled ticket routed to %s", a.Repository.Name)
	}

	plain := &ticket.Ticket{ExternalKey: "OPS-2", Labels: []string{"backend"}}
	a, err = Route(plain, assocs)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if a.Repository.Name != "acme/monolith" {
		t.Errorf("unlabelled ticket routed to %s", a.Repository.Name)
	}
}

func TestRouteComponentAndPriorityOrder(t *testing.T) {
	assocs := []Association{
		{Repository: Repository{Name: "acme/api-v2"}, Priority: 5, Components: []string{"api"}},
		{Repository: Repository{Name: "acme/api"}, Priority: 3, Components: []string{"api"}},
		{Repository: Repository{Name: "acme/main"}, Priority: 9, IsDefault: true},
	}
	a, _ := Route(&ticket.Ticket{Components: []string{"API"}}, assocs)
	if a.Repository.Name != "acme/api" {
		t.Errorf("routed to %s, want lowest priority match", a.Repository.Name)
	}
}

func TestRouteNoDefault(t *testing.T) {
	assocs := []Association{{Repository: Repository{Name: "acme/x"}, Labels: []string{"x"}}}
	if _, err := Route(&ticket.Ticket{ExternalKey: "K-1"}, assocs); !errors.Is(err, ErrNoRoute) {
		t.Errorf("error = %v, want ErrNoRoute", err)
	}
}

func TestValidateAssociations(t *testing.T) {
	tests := []struct {
		name   string
		assocs []Association
		want   error
	}{
		{"one default", []Association{{Repository: Repository{Name: "a"}, IsDefault: true}}, nil},
		{"no default", []Association{{Repository: Repository{Name: "a"}}}, ErrNoDefault},
		{"two defaults", []Association{
			{Repository: Repository{Name: "a"}, IsDefault: true},
			{Repository: Repository{Name: "b"}, IsDefault: true},
		}, ErrMultipleDefaults},
		{"bad pattern", []Association{{Repository: Repository{Name: "a"}, IsDefault: true, TitlePattern: "("}}, ErrInvalidAssociation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAssociations(tt.assocs)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRouterTitlePatternAndEligibility(t *testing.T) {
	r, err := NewRouter([]Project{{
		Key:        "OPS",
		BotEnabled: true,
		Associations: []Association{
			{Repository: Repository{Name: "acme/docs", BotEnabled: false}, Priority: 1, TitlePattern: `(?i)^docs:`},
			{Repository: Repository{Name: "acme/app", BotEnabled: true}, Priority: 2, IsDefault: true},
		},
	}})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	docs := &ticket.Ticket{ProjectKey: "OPS", Title: "Docs: fix install guide"}
	_, a, err := r.RouteTicket(docs)
	if err != nil {
		t.Fatalf("RouteTicket: %v", err)
	}
	if a.Repository.Name != "acme/docs" {
		t.Errorf("routed to %s", a.Repository.Name)
	}
	if r.Eligible(docs) {
		t.Error("ticket routed to a bot-disabled repository is eligible")
	}

	app := &ticket.Ticket{ProjectKey: "OPS", Title: "Crash on login"}
	if !r.Eligible(app) {
		t.Error("ticket for bot-enabled project and repository should be eligible")
	}

	if r.Eligible(&ticket.Ticket{ProjectKey: "NOPE"}) {
		t.Error("ticket for unknown project is eligible")
	}
}

func TestNewRouterRejectsMultipleDefaults(t *testing.T) {
	_, err := NewRouter([]Project{{
		Key: "OPS",
		Associations: []Association{
			{Repository: Repository{Name: "a"}, IsDefault: true},
			{Repository: Repository{Name: "b"}, IsDefault: true},
		},
	}})
	if !errors.Is(err, ErrMultipleDefaults) {
		t.Errorf("error = %v, want ErrMultipleDefaults", err)
	}
}
