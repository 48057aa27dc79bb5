package notify

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// Callback tokens: o:<action>:<orderID> and r:confirm:<redemptionID>.
const (
	tokenOrder      = "o"
	tokenRedemption = "r"
	verbConfirm     = "confirm"
)

// OrderToken builds the callback token for an order button.
func OrderToken(a domain.OrderAction, orderID string) string {
	return tokenOrder + ":" + string(a) + ":" + orderID
}

// RedemptionToken builds the callback token for a redemption confirm button.
func RedemptionToken(redemptionID string) string {
	return tokenRedemption + ":" + verbConfirm + ":" + redemptionID
}

type token struct {
	kind string
	verb string
	id   string
}

func parseToken(s string) (token, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return token{}, fmt.Errorf("malformed callback token %q", s)
	}
	t := token{kind: parts[0], verb: parts[1], id: parts[2]}
	switch t.kind {
	case tokenOrder:
		if !domain.OrderAction(t.verb).IsStaffAction() {
			return token{}, fmt.Errorf("unknown order action %q", t.verb)
		}
	case tokenRedemption:
		if t.verb != verbConfirm {
			return token{}, fmt.Errorf("unknown redemption action %q", t.verb)
		}
	default:
		return token{}, fmt.Errorf("unknown callback kind %q", t.kind)
	}
	return t, nil
}

var statusLabels = map[domain.OrderStatus]string{
	domain.StatusPending:   "pendiente",
	domain.StatusApproved:  "aprobado",
	domain.StatusPreparing: "en preparación",
	domain.StatusCompleted: "listo para recoger",
	domain.StatusDelivered: "entregado",
	domain.StatusRejected:  "rechazado",
	domain.StatusCancelled: "cancelado",
}

var actionLabels = map[domain.OrderAction]string{
	domain.ActionApprove:  "aprobar",
	domain.ActionReject:   "rechazar",
	domain.ActionPrepare:  "preparar",
	domain.ActionComplete: "listo",
	domain.ActionDeliver:  "entregado",
}

var redemptionLabels = map[domain.RedemptionStatus]string{
	domain.RedemptionPending:   "pendiente",
	domain.RedemptionUsed:      "usado",
	domain.RedemptionCancelled: "cancelado",
}

// Renderer formats staff-facing messages in Spanish.
type Renderer struct {
	p     *message.Printer
	title cases.Caser
	upper cases.Caser
}

// NewRenderer returns a Renderer for tag (Spanish when zero).
func NewRenderer(tag language.Tag) *Renderer {
	if tag == language.Und {
		tag = language.Spanish
	}
	return &Renderer{
		p:     message.NewPrinter(tag),
		title: cases.Title(tag),
		upper: cases.Upper(tag),
	}
}

// StatusLabel returns the display name of s.
func (r *Renderer) StatusLabel(s domain.OrderStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Points formats a point amount with locale digit grouping.
func (r *Renderer) Points(n int64) string { return r.p.Sprintf("%d", n) }

// Order renders an order card. by, when set, names who made the last change.
func (r *Renderer) Order(o *domain.Order, by string) string {
	var b strings.Builder
	b.WriteString(r.p.Sprintf("Pedido %s", o.Code))
	if o.TableNumber != nil {
		b.WriteString(r.p.Sprintf(" · mesa %d", *o.TableNumber))
	}
	b.WriteString("\n")
	for _, it := range o.Items {
		b.WriteString(r.p.Sprintf("%d × %s  %s €\n", it.Quantity, it.Name, r.money(it.LineTotal.InexactFloat64())))
	}
	b.WriteString(r.p.Sprintf("Total: %s €", r.money(o.Total.InexactFloat64())))
	if o.AccountID != nil && o.PointsToEarn > 0 {
		b.WriteString(r.p.Sprintf(" · +%s pts", r.Points(o.PointsToEarn)))
	}
	b.WriteString("\n")
	if o.Notes != "" {
		b.WriteString("Notas: " + o.Notes + "\n")
	}
	b.WriteString("Estado: " + r.upper.String(r.StatusLabel(o.Status)))
	if by != "" && o.Status != domain.StatusPending {
		b.WriteString(" (" + r.title.String(by) + ")")
	}
	if o.Status == domain.StatusRejected && o.RejectionReason != nil && *o.RejectionReason != "" {
		b.WriteString("\nMotivo: " + *o.RejectionReason)
	}
	return b.String()
}

// OrderActions returns the buttons for the staff actions legal in the
// order's current status. Terminal orders get none.
func (r *Renderer) OrderActions(o *domain.Order) []Action {
	next := domain.NextActions(o.Status)
	out := make([]Action, 0, len(next))
	for _, a := range next {
		out = append(out, Action{Label: r.title.String(actionLabels[a]), Token: OrderToken(a, o.ID)})
	}
	return out
}

// Redemption renders a redemption card.
func (r *Renderer) Redemption(red *domain.Redemption, by string) string {
	var b strings.Builder
	b.WriteString(r.p.Sprintf("Canje %s\n", red.Code))
	if red.Reward != nil {
		b.WriteString(red.Reward.Name + "\n")
	}
	b.WriteString(r.p.Sprintf("%s pts\n", r.Points(red.PointsSpent)))
	label := redemptionLabels[red.Status]
	if label == "" {
		label = string(red.Status)
	}
	b.WriteString("Estado: " + r.upper.String(label))
	if by != "" && red.Status == domain.RedemptionUsed {
		b.WriteString(" (" + r.title.String(by) + ")")
	}
	return b.String()
}

// RedemptionActions returns the confirm button while the code is pending.
func (r *Renderer) RedemptionActions(red *domain.Redemption) []Action {
	if red.Status != domain.RedemptionPending {
		return nil
	}
	return []Action{{Label: "Confirmar", Token: RedemptionToken(red.ID)}}
}

func (r *Renderer) money(v float64) string { return r.p.Sprintf("%.2f", v) }
