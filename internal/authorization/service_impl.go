package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/smallbiznis/viotraix/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

const (
	ObjectReminders     = "reminders"
	ObjectWebhookEvents = "webhook_events"
)

const (
	ActionRemindersRun      = "reminders.run"
	ActionWebhookEventsView = "webhook_events.view"
)

const (
	roleAdmin  = "role:admin"
	roleSystem = "role:system"
	roleUser   = "role:user"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// Actor is the caller being authorized. System is set for trusted internal
// triggers such as the cron endpoint.
type Actor struct {
	UserID string
	Email  string
	System bool
}

// SystemActor authorizes internal jobs.
var SystemActor = Actor{System: true}

type Service interface {
	Authorize(ctx context.Context, actor Actor, object string, action string) error
	IsAdmin(actor Actor) bool
}

var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log        *zap.Logger
	adminEmail string
	enforcer   *casbin.SyncedEnforcer
}

// NewEnforcer builds an in-memory enforcer seeded with the static role
// policies.
func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:        p.Log.Named("authorization.service"),
		adminEmail: strings.ToLower(strings.TrimSpace(p.Cfg.AdminEmail)),
		enforcer:   p.Enforcer,
	}
}

func (s *ServiceImpl) IsAdmin(actor Actor) bool {
	if s.adminEmail == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(actor.Email), s.adminEmail)
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(actor)
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(actor Actor) (string, string, error) {
	if actor.System {
		return "system", roleSystem, nil
	}
	userID := strings.TrimSpace(actor.UserID)
	if userID == "" {
		return "", "", ErrInvalidActor
	}
	subject := "user:" + userID
	if s.IsAdmin(actor) {
		return subject, roleAdmin, nil
	}
	return subject, roleUser, nil
}

// ensureGrouping keeps exactly one role link per subject, so a user whose
// email stops matching ADMIN_EMAIL loses the admin role on the next check.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(rule[0], rule[1]); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleAdmin, ObjectReminders, ActionRemindersRun},
		{roleAdmin, ObjectWebhookEvents, ActionWebhookEventsView},

		{roleSystem, ObjectReminders, ActionRemindersRun},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}
	return nil
}
