package rbac

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed seed/permissions.yaml
var defaultSeedYAML []byte

// SeedPermission is one permission entry of the seed file
type SeedPermission struct {
	Module      string `yaml:"module"`
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedRole is one built-in role of the seed file
type SeedRole struct {
	Slug        string   `yaml:"slug"`
	Name        string   `yaml:"name"`
	Hierarchy   int      `yaml:"hierarchy"`
	System      bool     `yaml:"system"`
	Description string   `yaml:"description"`
	GrantAll    bool     `yaml:"grant_all"`
	Grants      []string `yaml:"grants"`
}

// SeedData is the parsed seed file
type SeedData struct {
	OwnershipModules []string         `yaml:"ownership_modules"`
	Permissions      []SeedPermission `yaml:"permissions"`
	Roles            []SeedRole       `yaml:"roles"`
}

// ParseSeed decodes and sanity-checks seed YAML
func ParseSeed(data []byte) (*SeedData, error) {
	var seed SeedData
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed data: %w", err)
	}
	for _, p := range seed.Permissions {
		if p.Slug == "" || p.Module == "" {
			return nil, errors.New("seed permission requires slug and module")
		}
	}
	for _, r := range seed.Roles {
		if r.Slug == "" {
			return nil, errors.New("seed role requires a slug")
		}
	}
	return &seed, nil
}

// DefaultSeed returns the embedded seed data
func DefaultSeed() (*SeedData, error) {
	return ParseSeed(defaultSeedYAML)
}

// AllPermissions expands ownership modules and returns every permission to create
func (d *SeedData) AllPermissions() []SeedPermission {
	var out []SeedPermission
	for _, module := range d.OwnershipModules {
		rules := NewOwnershipPolicy(module).Rules
		named := map[string]string{
			rules[AbilityViewAny].Permission:   "View own " + module,
			rules[AbilityView].AnyPermission:   "View all " + module,
			rules[AbilityCreate].Permission:    "Manage own " + module,
			rules[AbilityUpdate].AnyPermission: "Update any " + module,
			rules[AbilityDelete].AnyPermission: "Delete any " + module,
		}
		for _, slug := range NewOwnershipPolicy(module).Slugs() {
			out = append(out, SeedPermission{Module: module, Slug: slug, Name: named[slug]})
		}
	}
	return append(out, d.Permissions...)
}

// SeedReport counts what a Seed run created
type SeedReport struct {
	PermissionsCreated int
	RolesCreated       int
}

// Seeder creates the built-in permissions and roles
type Seeder struct {
	store  *Store
	logger *logrus.Logger
}

// NewSeeder creates a seeder. A nil logger falls back to logrus defaults.
func NewSeeder(store *Store, logger *logrus.Logger) *Seeder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Seeder{store: store, logger: logger}
}

// Seed is idempotent: permissions are created only when their slug is new, and
// role grants are only ever added.
func (s *Seeder) Seed(ctx context.Context, data *SeedData) (SeedReport, error) {
	var report SeedReport

	perms := data.AllPermissions()
	slugs := make([]string, 0, len(perms))
	for _, sp := range perms {
		p := Permission{Name: sp.Name, Slug: sp.Slug, Description: sp.Description, Module: sp.Module}
		created, err := s.store.EnsurePermission(ctx, &p)
		if err != nil {
			return report, err
		}
		if created {
			report.PermissionsCreated++
			s.logger.WithFields(logrus.Fields{"slug": p.Slug, "module": p.Module}).Info("Created permission")
		}
		slugs = append(slugs, p.Slug)
	}

	for _, sr := range data.Roles {
		role, err := s.store.GetRoleBySlug(ctx, sr.Slug)
		if errors.Is(err, ErrRoleNotFound) {
			role = &Role{
				Name:        sr.Name,
				Slug:        sr.Slug,
				Hierarchy:   sr.Hierarchy,
				IsSystem:    sr.System,
				Description: sr.Description,
			}
			if err := s.store.CreateRole(ctx, role); err != nil {
				return report, err
			}
			report.RolesCreated++
			s.logger.WithField("slug", role.Slug).Info("Created role")
		} else if err != nil {
			return report, err
		}

		grants := sr.Grants
		if sr.GrantAll {
			grants = slugs
		}
		if err := s.store.GrantPermissions(ctx, role.ID, grants); err != nil {
			return report, fmt.Errorf("failed to grant permissions to %s: %w", sr.Slug, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"permissions_created": report.PermissionsCreated,
		"roles_created":       report.RolesCreated,
	}).Info("RBAC seed complete")
	return report, nil
}
