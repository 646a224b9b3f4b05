package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quickmart-labs/voicecart-core/internal/catalog"
	"github.com/quickmart-labs/voicecart-core/internal/order"
)

const (
	defaultCustomerName    = "Guest"
	defaultDeliveryAddress = "123 Main St (Demo)"
)

// Status classifies a command outcome. NotFound and InvalidState are
// expected conversational conditions, never errors.
type Status string

const (
	StatusOK           Status = "ok"
	StatusNotFound     Status = "not_found"
	StatusInvalidState Status = "invalid_state"
)

// Result is the structured outcome of one command: a status plus the text
// spoken back to the caller.
type Result struct {
	Status Status
	Text   string
}

func ok(format string, args ...any) Result {
	return Result{Status: StatusOK, Text: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) Result {
	return Result{Status: StatusNotFound, Text: fmt.Sprintf(format, args...)}
}

// CartLine is one item in the cart. Price and unit are snapshots taken when
// the line was created; later catalog changes do not affect it.
type CartLine struct {
	ItemID   string
	Name     string
	Unit     string
	Price    float64
	Quantity int
}

// OrderWriter persists a finalized order.
type OrderWriter interface {
	Write(ctx context.Context, o order.Order) error
}

// Session owns one caller's cart and customer name. Commands are issued
// sequentially by the conversational layer; the session itself does no
// locking.
type Session struct {
	id           string
	catalog      *catalog.Index
	writer       OrderWriter
	log          *slog.Logger
	lines        []CartLine
	customerName string
	now          func() time.Time
	newOrderID   func() string
}

func New(id string, ix *catalog.Index, writer OrderWriter, log *slog.Logger) *Session {
	return &Session{
		id:      id,
		catalog: ix,
		writer:  writer,
		log:     log.With(slog.String("session_id", id)),
		now:     time.Now,
		// Short ids read better over voice than full UUIDs.
		newOrderID: func() string { return uuid.NewString()[:8] },
	}
}

// Search looks an item up without touching the cart.
func (s *Session) Search(name string) Result {
	item, found := s.catalog.FindByName(name)
	if !found {
		suggestions := s.catalog.Suggestions(5)
		if len(suggestions) == 0 {
			return notFound("Sorry, I couldn't find '%s' in our catalog.", name)
		}
		return notFound("Sorry, I couldn't find '%s'. Some items we have: %s. Try searching for one of these?",
			name, strings.Join(suggestions, ", "))
	}
	return ok("Found: %s - ₹%.0f per %s (%s). Available to add to cart.",
		item.Name, item.Price, item.Unit, item.Brand)
}

// AddItem resolves the name and either increments the existing line or
// appends a new one with a price/unit snapshot. Quantities below one are
// treated as one.
func (s *Session) AddItem(name string, qty int) Result {
	if qty < 1 {
		qty = 1
	}
	item, found := s.catalog.FindByName(name)
	if !found {
		return notFound("Sorry, I couldn't find '%s' in our catalog. Try searching for it first?", name)
	}

	if line := s.lineByID(item.ID); line != nil {
		line.Quantity += qty
		s.log.Info("cart quantity incremented", slog.String("item", item.Name), slog.Int("quantity", line.Quantity))
		return ok("Updated! You now have %d %s(s) of %s in your cart.", line.Quantity, line.Unit, line.Name)
	}

	s.lines = append(s.lines, CartLine{
		ItemID:   item.ID,
		Name:     item.Name,
		Unit:     item.Unit,
		Price:    item.Price,
		Quantity: qty,
	})
	s.log.Info("cart line added", slog.String("item", item.Name), slog.Int("quantity", qty))
	return ok("Added %d %s(s) of %s to your cart (₹%.0f each).", qty, item.Unit, item.Name, item.Price)
}

// AddRecipe adds one of each resolvable ingredient. Unresolvable ids are
// skipped, and the caller is told both what was added and what wasn't.
func (s *Session) AddRecipe(name string) Result {
	itemIDs, found := s.catalog.FindRecipe(name)
	if !found {
		known := s.catalog.RecipeNames()
		if len(known) == 0 {
			return notFound("I don't have a recipe for '%s'. Try asking for specific items instead.", name)
		}
		return notFound("I don't have a recipe for '%s'. Try asking for specific items instead, or try: %s.",
			name, strings.Join(known, ", "))
	}

	var added, skipped []string
	for _, id := range itemIDs {
		item, resolvable := s.catalog.FindByID(id)
		if !resolvable {
			skipped = append(skipped, id)
			continue
		}
		if line := s.lineByID(item.ID); line != nil {
			line.Quantity++
		} else {
			s.lines = append(s.lines, CartLine{
				ItemID:   item.ID,
				Name:     item.Name,
				Unit:     item.Unit,
				Price:    item.Price,
				Quantity: 1,
			})
		}
		added = append(added, item.Name)
	}

	s.log.Info("recipe items added",
		slog.String("recipe", name),
		slog.Int("added", len(added)),
		slog.Int("skipped", len(skipped)))

	if len(added) == 0 {
		return notFound("None of the ingredients for '%s' are available right now.", name)
	}
	text := fmt.Sprintf("Great! For %s, I've added: %s to your cart.", name, strings.Join(added, ", "))
	if len(skipped) > 0 {
		text += fmt.Sprintf(" (%d ingredient(s) weren't available.)", len(skipped))
	}
	return ok("%s", text)
}

// RemoveItem removes the first cart line whose name contains the query.
func (s *Session) RemoveItem(name string) Result {
	q := strings.ToLower(strings.TrimSpace(name))
	for i, line := range s.lines {
		if strings.Contains(strings.ToLower(line.Name), q) {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			s.log.Info("cart line removed", slog.String("item", line.Name))
			return ok("Removed %s from your cart.", line.Name)
		}
	}
	return notFound("I couldn't find '%s' in your cart.", name)
}

// UpdateQuantity sets (not adds) the quantity of the first matching line.
// A quantity of zero or less removes the line.
func (s *Session) UpdateQuantity(name string, qty int) Result {
	q := strings.ToLower(strings.TrimSpace(name))
	for i := range s.lines {
		line := &s.lines[i]
		if !strings.Contains(strings.ToLower(line.Name), q) {
			continue
		}
		if qty <= 0 {
			removed := line.Name
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			s.log.Info("cart line removed via zero quantity", slog.String("item", removed))
			return ok("Removed %s from your cart.", removed)
		}
		line.Quantity = qty
		s.log.Info("cart quantity updated", slog.String("item", line.Name), slog.Int("quantity", qty))
		return ok("Updated %s quantity to %d.", line.Name, qty)
	}
	return notFound("I couldn't find '%s' in your cart.", name)
}

// ShowCart renders the cart with per-line subtotals and the grand total.
func (s *Session) ShowCart() Result {
	if len(s.lines) == 0 {
		return Result{Status: StatusInvalidState, Text: "Your cart is empty. What would you like to order?"}
	}

	var b strings.Builder
	b.WriteString("Here's what's in your cart:\n")
	for _, line := range s.lines {
		subtotal := line.Price * float64(line.Quantity)
		fmt.Fprintf(&b, "- %d %s(s) of %s (₹%.0f each = ₹%.0f)\n",
			line.Quantity, line.Unit, line.Name, line.Price, subtotal)
	}
	fmt.Fprintf(&b, "\nTotal: ₹%.0f", s.Total())
	return Result{Status: StatusOK, Text: b.String()}
}

// Total sums price*quantity over all lines, rounded to whole currency units.
func (s *Session) Total() float64 {
	var total float64
	for _, line := range s.lines {
		total += line.Price * float64(line.Quantity)
	}
	return math.Round(total)
}

// SetCustomerName unconditionally overwrites the session customer name.
func (s *Session) SetCustomerName(name string) Result {
	s.customerName = name
	s.log.Info("customer name set", slog.String("name", name))
	return ok("Great! I'll put this order under %s.", name)
}

// PlaceOrder snapshots the cart into an order, persists it and clears the
// cart. On a persistence error the cart is preserved and the error is
// returned for the caller to surface.
func (s *Session) PlaceOrder(ctx context.Context, customerName string) (*order.Order, Result, error) {
	if customerName != "" {
		s.customerName = customerName
	}
	if len(s.lines) == 0 {
		return nil, Result{
			Status: StatusInvalidState,
			Text:   "Your cart is empty! Add some items before placing an order.",
		}, nil
	}

	name := s.customerName
	if name == "" {
		name = defaultCustomerName
	}

	o := order.Order{
		OrderID:         s.newOrderID(),
		CustomerName:    name,
		CreatedAt:       s.now().UTC(),
		Status:          order.StatusReceived,
		Lines:           s.snapshotLines(),
		Total:           s.Total(),
		DeliveryAddress: defaultDeliveryAddress,
	}

	if err := s.writer.Write(ctx, o); err != nil {
		s.log.Error("order persistence failed", slog.String("order_id", o.OrderID), slog.String("error", err.Error()))
		return nil, Result{}, fmt.Errorf("persist order %s: %w", o.OrderID, err)
	}

	s.lines = nil
	s.log.Info("order placed",
		slog.String("order_id", o.OrderID),
		slog.Int("lines", len(o.Lines)),
		slog.Float64("total", o.Total))

	var b strings.Builder
	fmt.Fprintf(&b, "Order placed successfully! Order ID: %s\n\nItems ordered:\n", o.OrderID)
	for _, line := range o.Lines {
		fmt.Fprintf(&b, "- %dx %s\n", line.Quantity, line.Name)
	}
	fmt.Fprintf(&b, "\nTotal: ₹%.0f\nStatus: %s\nEstimated delivery: 30-45 minutes\n\nThank you for shopping with us!",
		o.Total, o.Status)
	return &o, Result{Status: StatusOK, Text: b.String()}, nil
}

// snapshotLines copies the cart so the order never aliases live cart state.
func (s *Session) snapshotLines() []order.Line {
	lines := make([]order.Line, 0, len(s.lines))
	for _, l := range s.lines {
		lines = append(lines, order.Line{
			ItemID:   l.ItemID,
			Name:     l.Name,
			Unit:     l.Unit,
			Price:    l.Price,
			Quantity: l.Quantity,
		})
	}
	return lines
}

func (s *Session) lineByID(itemID string) *CartLine {
	for i := range s.lines {
		if s.lines[i].ItemID == itemID {
			return &s.lines[i]
		}
	}
	return nil
}

// Lines returns a copy of the current cart.
func (s *Session) Lines() []CartLine {
	return append([]CartLine(nil), s.lines...)
}

func (s *Session) Empty() bool {
	return len(s.lines) == 0
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) CustomerName() string {
	return s.customerName
}
