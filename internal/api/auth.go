package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Tenant string
	Role   string // admin, dispatcher, crew, customer
	CrewID string
}

// getPrincipal extracts tenant, role and crew identity from the JWT or, for
// dev setups, from headers.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Tenant: pr.Tenant, Role: pr.Role, CrewID: pr.CrewID}
		}
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := r.Header.Get("X-Role")
	crewID := r.Header.Get("X-Crew-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	if role == "" {
		role = "admin"
	}
	return Principal{Tenant: tenant, Role: role, CrewID: crewID}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanDispatch reports whether the principal may build/approve schedules.
func (p Principal) CanDispatch() bool { return p.Role == "admin" || p.Role == "dispatcher" }

// CanExecute reports whether the principal may record field outcomes.
func (p Principal) CanExecute() bool { return p.CanDispatch() || p.Role == "crew" }
