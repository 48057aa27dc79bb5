package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/observability"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
	"github.com/tbourn/go-loyalty-backend/internal/services"
)

// Defaults applied by NewChannel.
const (
	DefaultConcurrency = 8
	DefaultSendTimeout = 5 * time.Second
)

// Sessions resolves chat sessions to staff and toggles shifts.
type Sessions interface {
	ResolveSession(ctx context.Context, sessionID string) (*domain.StaffSession, error)
	SetSessionDuty(ctx context.Context, sessionID string, onDuty bool) error
	OnDutySessions(ctx context.Context) ([]domain.StaffSession, error)
}

// Coordinator applies order transitions.
type Coordinator interface {
	ApplyTransition(ctx context.Context, orderID string, action domain.OrderAction, actor domain.Actor, extra domain.TransitionExtra) (*domain.TransitionResult, error)
}

// Registry validates and consumes redemption codes.
type Registry interface {
	Validate(ctx context.Context, code string) (*domain.Redemption, error)
	ConfirmUse(ctx context.Context, codeOrID, staffID string) (*domain.Redemption, error)
}

// Channel fans staff notifications out over a Transport and handles what
// comes back. It implements services.Notifier.
type Channel struct {
	DB          *gorm.DB
	Transport   Transport
	Sessions    Sessions
	Orders      Coordinator
	Redemptions Registry
	Render      *Renderer

	Concurrency int
	SendTimeout time.Duration

	// edits serializes message edits per subject
	edits keyLock
}

var _ services.Notifier = (*Channel)(nil)

// NewChannel constructs a Channel with default limits and Spanish rendering.
func NewChannel(db *gorm.DB, t Transport, sessions Sessions, orders Coordinator, redemptions Registry) *Channel {
	return &Channel{
		DB:          db,
		Transport:   t,
		Sessions:    sessions,
		Orders:      orders,
		Redemptions: redemptions,
		Render:      NewRenderer(language.Spanish),
		Concurrency: DefaultConcurrency,
		SendTimeout: DefaultSendTimeout,
	}
}

func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// NotifyNewOrder sends the order card to every on-duty session and stores
// the first acknowledged message on the order.
func (c *Channel) NotifyNewOrder(ctx context.Context, order *domain.Order) error {
	sessions, err := c.Sessions.OnDutySessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		logger(ctx).Warn().Str("order_id", order.ID).Msg("no staff on duty for new order")
		return nil
	}

	refs, err := c.fanOut(ctx, "new_order", domain.SubjectOrder, order.ID, sessions,
		c.Render.Order(order, ""), c.Render.OrderActions(order))
	if len(refs) > 0 {
		if _, serr := repo.SetOrderMessageRef(ctx, c.DB, order.ID, refs[0].String()); serr != nil {
			logger(ctx).Warn().Err(serr).Str("order_id", order.ID).Msg("store message ref failed")
		}
		// a transition may have landed while the copies were being sent
		unlock := c.edits.lock(subjectKey(domain.SubjectOrder, order.ID))
		if cur, gerr := repo.GetOrder(ctx, c.DB, order.ID); gerr == nil && cur.Status != order.Status {
			if eerr := c.editAll(ctx, "order_update", domain.SubjectOrder, cur.ID, c.Render.Order(cur, ""), c.Render.OrderActions(cur)); eerr != nil {
				logger(ctx).Warn().Err(eerr).Str("order_id", cur.ID).Msg("reconcile order messages failed")
			}
		}
		unlock()
	}
	return err
}

// NotifyTransition edits every delivered copy of the order card to show the
// new status and only the actions now legal. Edits for one order run one at
// a time against a fresh read of the order. When the order has already moved
// past the given snapshot the edit is skipped: the later transition's own
// notification renders the newer state.
func (c *Channel) NotifyTransition(ctx context.Context, order *domain.Order, actor domain.Actor) error {
	unlock := c.edits.lock(subjectKey(domain.SubjectOrder, order.ID))
	defer unlock()

	cur, err := repo.GetOrder(ctx, c.DB, order.ID)
	if err != nil {
		logger(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("reload order failed, rendering snapshot")
		cur = order
	}
	if cur.Status != order.Status {
		logger(ctx).Debug().
			Str("order_id", order.ID).
			Str("snapshot", string(order.Status)).
			Str("current", string(cur.Status)).
			Msg("stale order update skipped")
		observability.ObserveNotification("order_update", observability.OutcomeSkipped)
		return nil
	}
	by := ""
	if actor.Kind == domain.ActorStaff {
		by = actor.DisplayName()
	}
	return c.editAll(ctx, "order_update", domain.SubjectOrder, cur.ID,
		c.Render.Order(cur, by), c.Render.OrderActions(cur))
}

// NotifyRedemption announces a freshly issued code to on-duty staff.
func (c *Channel) NotifyRedemption(ctx context.Context, r *domain.Redemption) error {
	sessions, err := c.Sessions.OnDutySessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}
	_, err = c.fanOut(ctx, "redemption", domain.SubjectRedemption, r.ID, sessions,
		c.Render.Redemption(r, ""), c.Render.RedemptionActions(r))
	return err
}

// NotifyRedemptionUsed marks every copy of the redemption card as used.
func (c *Channel) NotifyRedemptionUsed(ctx context.Context, r *domain.Redemption, actor domain.Actor) error {
	unlock := c.edits.lock(subjectKey(domain.SubjectRedemption, r.ID))
	defer unlock()
	return c.editAll(ctx, "redemption_update", domain.SubjectRedemption, r.ID,
		c.Render.Redemption(r, actor.DisplayName()), c.Render.RedemptionActions(r))
}

// fanOut sends one message per session concurrently and records every copy
// delivered. Refs come back in acknowledgement order. The error is non-nil
// only when no copy was delivered.
func (c *Channel) fanOut(ctx context.Context, kind string, subject domain.SubjectKind, subjectID string, sessions []domain.StaffSession, text string, actions []Action) ([]MessageRef, error) {
	var (
		mu   sync.Mutex
		refs []MessageRef
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency())
	for _, s := range sessions {
		sessionID := s.TransportSessionID
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, c.sendTimeout())
			defer cancel()
			ref, err := c.Transport.Send(sctx, sessionID, text, actions)
			if err != nil {
				observability.ObserveNotification(kind, observability.OutcomeError)
				mu.Lock()
				errs = append(errs, fmt.Errorf("session %s: %w", sessionID, err))
				mu.Unlock()
				return nil
			}
			observability.ObserveNotification(kind, observability.OutcomeApplied)
			mu.Lock()
			refs = append(refs, ref)
			mu.Unlock()
			if err := repo.RecordNotificationMessage(ctx, c.DB, subject, subjectID, sessionID, ref.String()); err != nil {
				logger(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("record staff message failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		logger(ctx).Warn().Err(err).Str("subject_id", subjectID).Str("notification", kind).Msg("staff send failed")
	}
	if len(refs) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrTransportFailure, errors.Join(errs...))
	}
	return refs, nil
}

// editAll rewrites every recorded copy of a subject's message.
func (c *Channel) editAll(ctx context.Context, kind string, subject domain.SubjectKind, subjectID, text string, actions []Action) error {
	msgs, err := repo.ListNotificationMessages(ctx, c.DB, subject, subjectID)
	if err != nil {
		return err
	}
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency())
	for _, m := range msgs {
		raw := m.MessageRef
		g.Go(func() error {
			ref, err := ParseMessageRef(raw)
			if err == nil {
				sctx, cancel := context.WithTimeout(ctx, c.sendTimeout())
				err = c.Transport.Edit(sctx, ref, text, actions)
				cancel()
			}
			if err != nil {
				observability.ObserveNotification(kind, observability.OutcomeError)
				mu.Lock()
				errs = append(errs, fmt.Errorf("message %s: %w", raw, err))
				mu.Unlock()
				return nil
			}
			observability.ObserveNotification(kind, observability.OutcomeApplied)
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrTransportFailure, errors.Join(errs...))
	}
	return nil
}

func subjectKey(kind domain.SubjectKind, id string) string {
	return string(kind) + ":" + id
}

func (c *Channel) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return DefaultConcurrency
}

func (c *Channel) sendTimeout() time.Duration {
	if c.SendTimeout > 0 {
		return c.SendTimeout
	}
	return DefaultSendTimeout
}

// HandleCallback executes a button press from sessionID and returns a short
// text to show the presser. The error, if any, explains a rejection; the
// toast is meaningful either way.
func (c *Channel) HandleCallback(ctx context.Context, sessionID, tok string) (string, error) {
	sess, err := c.Sessions.ResolveSession(ctx, sessionID)
	if err != nil {
		return "No autorizado", err
	}
	if !sess.OnDuty {
		return "Activa tu turno con /on", services.ErrOffDuty
	}
	t, err := parseToken(tok)
	if err != nil {
		return "Acción desconocida", fmt.Errorf("%w: %v", services.ErrValidation, err)
	}
	actor := domain.StaffActor(sess.StaffID, sess.Staff.Name)
	l := logger(ctx).With().Str("session_id", sessionID).Str("staff_id", sess.StaffID).Str("token", tok).Logger()

	switch t.kind {
	case tokenOrder:
		res, err := c.Orders.ApplyTransition(ctx, t.id, domain.OrderAction(t.verb), actor, domain.TransitionExtra{})
		if err != nil {
			l.Info().Err(err).Msg("staff action rejected")
			return c.orderToast(err), err
		}
		if !res.Applied {
			return "El pedido ya estaba " + c.Render.StatusLabel(res.Order.Status), nil
		}
		return fmt.Sprintf("Pedido %s: %s", res.Order.Code, c.Render.StatusLabel(res.Order.Status)), nil

	default:
		r, err := c.Redemptions.ConfirmUse(ctx, t.id, sess.StaffID)
		if err != nil {
			l.Info().Err(err).Msg("redemption confirm rejected")
			if errors.Is(err, services.ErrAlreadyUsedOrNotFound) {
				return "Código ya usado o inexistente", err
			}
			return "No se pudo confirmar", err
		}
		return fmt.Sprintf("Canje %s confirmado", r.Code), nil
	}
}

func (c *Channel) orderToast(err error) string {
	var te *services.TransitionError
	switch {
	case errors.As(err, &te):
		return "No se puede: el pedido está " + c.Render.StatusLabel(te.Current)
	case errors.Is(err, services.ErrNotFound):
		return "Pedido no encontrado"
	case errors.Is(err, services.ErrForbidden):
		return "No autorizado"
	}
	return "Error, inténtalo de nuevo"
}

// HandleCommand answers a text command from sessionID. Supported:
// /on, /off to start or end a shift and /code <CODE> to look a code up.
func (c *Channel) HandleCommand(ctx context.Context, sessionID, command, args string) (Reply, error) {
	command = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(command), "/"))
	switch command {
	case "start", "help":
		return Reply{Text: "Sesión " + sessionID + "\n/on inicia turno · /off termina turno · /code CÓDIGO valida un canje"}, nil
	case "on", "off":
		onDuty := command == "on"
		if err := c.Sessions.SetSessionDuty(ctx, sessionID, onDuty); err != nil {
			return Reply{Text: "No autorizado"}, err
		}
		if onDuty {
			return Reply{Text: "Turno iniciado"}, nil
		}
		return Reply{Text: "Turno terminado"}, nil
	case "code":
		sess, err := c.Sessions.ResolveSession(ctx, sessionID)
		if err != nil {
			return Reply{Text: "No autorizado"}, err
		}
		if !sess.OnDuty {
			return Reply{Text: "Activa tu turno con /on"}, services.ErrOffDuty
		}
		code := strings.TrimSpace(args)
		if code == "" {
			return Reply{Text: "Uso: /code CÓDIGO"}, nil
		}
		r, err := c.Redemptions.Validate(ctx, code)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return Reply{Text: "Código no encontrado"}, nil
			}
			return Reply{Text: "Error, inténtalo de nuevo"}, err
		}
		return Reply{Text: c.Render.Redemption(r, ""), Actions: c.Render.RedemptionActions(r)}, nil
	}
	return Reply{Text: "Comando desconocido"}, nil
}
