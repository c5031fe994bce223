package cmd

import (
	"context"
	"sort"
	"strings"

	"github.com/Iron-Ham/fleetwatch/internal/logging"
	"github.com/Iron-Ham/fleetwatch/internal/registry"
)

type sessionLister interface {
	ListSessions(ctx context.Context) ([]string, error)
}

type tracker interface {
	Track(sess registry.Session)
	Untrack(id string)
	IsMissing(id string) bool
}

// roleFromName derives a session's role from its tmux name. Names look like
// <prefix><role>[-<suffix>], so with prefix "fw-" the session "fw-builder-2"
// is a builder. A "shell" role marks a plain shell with no agent. ok is
// false when name does not carry the prefix.
func roleFromName(name, prefix string) (role string, ok bool) {
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	rest := strings.TrimLeft(strings.TrimPrefix(name, prefix), "-_.")
	role, _, _ = strings.Cut(rest, "-")
	role = strings.ToLower(role)
	if role == "shell" {
		role = ""
	}
	return role, true
}

// sessionScanner keeps the tracked set in step with the sessions that
// exist on the tmux socket.
type sessionScanner struct {
	lister  sessionLister
	tracker tracker
	prefix  string
	logger  *logging.Logger
	tracked map[string]struct{}
}

func newSessionScanner(l sessionLister, t tracker, prefix string, logger *logging.Logger) *sessionScanner {
	return &sessionScanner{
		lister:  l,
		tracker: t,
		prefix:  prefix,
		logger:  logging.OrNop(logger).WithComponent("scanner"),
		tracked: make(map[string]struct{}),
	}
}

// scan tracks new matching sessions and untracks vanished ones. A vanished
// session stays tracked until the health monitor has confirmed it missing,
// so its missing alert is raised before it is dropped. A listing error
// leaves the tracked set alone.
func (s *sessionScanner) scan(ctx context.Context) (added, removed []string, err error) {
	names, err := s.lister.ListSessions(ctx)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		role, ok := roleFromName(name, s.prefix)
		if !ok {
			continue
		}
		seen[name] = struct{}{}
		if _, known := s.tracked[name]; known {
			continue
		}
		s.tracker.Track(registry.Session{ID: name, Role: role, Status: registry.StatusIdle})
		s.tracked[name] = struct{}{}
		added = append(added, name)
	}
	for name := range s.tracked {
		if _, ok := seen[name]; ok {
			continue
		}
		if !s.tracker.IsMissing(name) {
			s.logger.Debug("session vanished, awaiting health confirmation", "session_id", name)
			continue
		}
		s.tracker.Untrack(name)
		delete(s.tracked, name)
		removed = append(removed, name)
	}
	sort.Strings(added)
	sort.Strings(removed)

	if len(added) > 0 || len(removed) > 0 {
		s.logger.Info("sessions rescanned", "added", added, "removed", removed, "tracked", len(s.tracked))
	}
	return added, removed, nil
}
