package app

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"aqualens/cmd/identity"
)

type seedFile struct {
	Users []seedUser `yaml:"users"`
}

type seedUser struct {
	Name     string  `yaml:"name"`
	Email    string  `yaml:"email"`
	Role     string  `yaml:"role"`
	Phone    *string `yaml:"phone"`
	Password string  `yaml:"password"`
}

// LoadSeedFile reads accounts to create at startup:
//
//	users:
//	  - name: Ada Admin
//	    email: admin@aqualens.local
//	    role: admin
//	    password: "correct horse battery staple"
//
// A password of the form "env:NAME" is read from the environment.
func LoadSeedFile(path string) ([]identity.NewUser, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseSeed(raw)
}

func parseSeed(raw []byte) ([]identity.NewUser, error) {
	var f seedFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}

	out := make([]identity.NewUser, 0, len(f.Users))
	for i, u := range f.Users {
		role, err := identity.ParseRole(u.Role)
		if err != nil {
			return nil, fmt.Errorf("seed: users[%d]: %w", i, err)
		}

		pw := u.Password
		if name, ok := strings.CutPrefix(pw, "env:"); ok {
			pw = os.Getenv(name)
			if pw == "" {
				return nil, fmt.Errorf("seed: users[%d]: %s is not set", i, name)
			}
		}
		if strings.TrimSpace(u.Email) == "" || pw == "" {
			return nil, fmt.Errorf("seed: users[%d]: email and password are required", i)
		}

		out = append(out, identity.NewUser{
			Name:     u.Name,
			Email:    u.Email,
			Role:     role,
			Phone:    u.Phone,
			Password: pw,
		})
	}
	return out, nil
}
