package rbac

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed default_seed.yaml
var defaultSeed []byte

// Seed is the set of permissions and roles guaranteed to exist at startup
type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Roles       []SeedRole       `yaml:"roles"`
}

// SeedPermission is one permission entry in a seed file
type SeedPermission struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedRole is one role entry in a seed file
type SeedRole struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	IsSystemRole bool     `yaml:"is_system_role"`
	Permissions  []string `yaml:"permissions"`
}

// LoadSeed decodes a seed document
func LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to decode rbac seed: %w", err)
	}
	return &seed, nil
}

// LoadSeedFile reads a seed from path, or the built-in seed when path is empty
func LoadSeedFile(path string) (*Seed, error) {
	if path == "" {
		var seed Seed
		if err := yaml.Unmarshal(defaultSeed, &seed); err != nil {
			return nil, fmt.Errorf("failed to decode default rbac seed: %w", err)
		}
		return &seed, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rbac seed: %w", err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// ApplySeed creates any missing permissions and roles. Existing rows are
// left untouched so operator changes survive restarts.
func ApplySeed(ctx context.Context, store *Store, seed *Seed, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.New()
	}

	created := 0
	for _, p := range seed.Permissions {
		if !ValidPermissionName(p.Name) {
			return fmt.Errorf("%w: %q", ErrInvalidPermissionName, p.Name)
		}
		err := store.CreatePermission(ctx, &Permission{Name: p.Name, Description: p.Description})
		if errors.Is(err, ErrPermissionAlreadyExists) {
			continue
		}
		if err != nil {
			return err
		}
		created++
	}

	for _, r := range seed.Roles {
		name, err := NormalizeRoleName(r.Name)
		if err != nil {
			return fmt.Errorf("seed role %q: %w", r.Name, err)
		}

		if _, err := store.GetRoleByName(ctx, name); err == nil {
			continue
		} else if !errors.Is(err, ErrRoleNotFound) {
			return err
		}

		ids, missing, err := store.ResolvePermissions(ctx, r.Permissions)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("seed role %q: %w", name, &InvalidPermissionsError{Missing: missing})
		}

		role := &Role{Name: name, Description: r.Description, IsSystemRole: r.IsSystemRole, IsActive: true}
		if err := store.CreateRole(ctx, role, ids); err != nil && !errors.Is(err, ErrRoleAlreadyExists) {
			return err
		}
		created++
	}

	logger.WithField("created", created).Info("Applied RBAC seed")
	return nil
}
